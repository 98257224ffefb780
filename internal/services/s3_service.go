package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/fairwaygolf/assetsync/internal/config"
)

// StorageErrorType classifies object storage failures
type StorageErrorType string

const (
	StorageErrorNotFound     StorageErrorType = "not_found"
	StorageErrorAccessDenied StorageErrorType = "access_denied"
	StorageErrorTemporary    StorageErrorType = "temporary"
	StorageErrorUnknown      StorageErrorType = "unknown"
)

// S3Service talks to the image bucket through the S3-compatible API that
// Supabase Storage exposes.
type S3Service struct {
	client    *s3.Client
	bucket    string
	publicURL string
	pageLimit int32
}

var _ ObjectStore = (*S3Service)(nil)

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	client, err := buildClient(cfg.StorageS3Endpoint, cfg.StorageS3Region, cfg.StorageAccessKeyID, cfg.StorageSecretKey, cfg.StorageUsePathStyle)
	if err != nil {
		return nil, err
	}
	limit := cfg.ListPageLimit
	if limit <= 0 {
		limit = 1000
	}
	return &S3Service{
		client:    client,
		bucket:    cfg.StorageBucket,
		publicURL: strings.TrimRight(cfg.StoragePublicBaseURL, "/"),
		pageLimit: limit,
	}, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		awsconfig.WithLogger(logging.NewStandardLogger(nil)),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return client, nil
}

// ListFolder returns the immediate children of prefix: objects become files,
// common prefixes become folders.
func (s *S3Service) ListFolder(ctx context.Context, prefix string, opts ListOptions) ([]StoredObject, error) {
	prefix = strings.Trim(prefix, "/")
	listPrefix := ""
	if prefix != "" {
		listPrefix = prefix + "/"
	}

	var out []StoredObject
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(s.pageLimit),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %q (%s): %w", prefix, ClassifyStorageError(err), err)
		}
		for _, cp := range page.CommonPrefixes {
			p := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			if p == "" {
				continue
			}
			out = append(out, StoredObject{Path: p, Name: path.Base(p), IsFolder: true})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || key == listPrefix || strings.HasSuffix(key, "/") || IsPlaceholder(key) {
				continue
			}
			so := StoredObject{
				Path:        key,
				Name:        path.Base(key),
				Size:        aws.ToInt64(obj.Size),
				ContentType: ContentTypeFor(key),
			}
			if obj.LastModified != nil {
				so.LastModified = *obj.LastModified
			}
			out = append(out, so)
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}

	SortObjects(out, opts.SortBy)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Upload puts an object into the image bucket
func (s *S3Service) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	uploader := manager.NewUploader(s.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}, func(u *manager.Uploader) { u.PartSize = 10 * 1024 * 1024 })
	return err
}

// Delete removes objects in batches of up to 1000 keys
func (s *S3Service) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += 1000 {
		end := start + 1000
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects (%s): %w", ClassifyStorageError(err), err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// Move copies an object to a new key and removes the original
func (s *S3Service) Move(ctx context.Context, from, to string) error {
	source := s.bucket + "/" + escapeKey(from)
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(source),
	}); err != nil {
		return fmt.Errorf("copy %s -> %s (%s): %w", from, to, ClassifyStorageError(err), err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(from),
	}); err != nil {
		return fmt.Errorf("delete moved source %s: %w", from, err)
	}
	return nil
}

// Exists reports whether key is present in the bucket
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if ClassifyStorageError(err) == StorageErrorNotFound {
		return false, nil
	}
	return false, err
}

// PublicURL returns the public CDN URL for key. It is a pure function of the key.
func (s *S3Service) PublicURL(key string) string {
	return PublicObjectURL(s.publicURL, s.bucket, key)
}

// PublicObjectURL builds "<base>/<bucket>/<escaped key>".
func PublicObjectURL(base, bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), bucket, escapeKey(key))
}

func escapeKey(key string) string {
	segs := strings.Split(strings.Trim(key, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// ClassifyStorageError classifies S3 access errors by type
func ClassifyStorageError(err error) StorageErrorType {
	if err == nil {
		return StorageErrorUnknown
	}

	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return StorageErrorNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return StorageErrorNotFound
		case "AccessDenied", "Forbidden":
			return StorageErrorAccessDenied
		case "InternalError", "ServiceUnavailable", "SlowDown":
			return StorageErrorTemporary
		}
	}

	var httpErr *smithyhttp.ResponseError
	if errors.As(err, &httpErr) {
		switch httpErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return StorageErrorNotFound
		case http.StatusForbidden:
			return StorageErrorAccessDenied
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return StorageErrorTemporary
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") {
		return StorageErrorTemporary
	}

	return StorageErrorUnknown
}
