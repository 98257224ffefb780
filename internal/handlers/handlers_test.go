package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/middleware"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testServer struct {
	app    *app.App
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		StorageDriver:        "local",
		LocalStoragePath:     filepath.Join(dir, "storage"),
		StorageBucket:        "blog-images",
		StoragePublicBaseURL: "https://cdn.test/storage/v1/object/public",
		UploadMaxImageSize:   1 << 20,
		CustomerFolderRoot:   "originals/customers",
		ListBatchSize:        100,
		ListMaxDepth:         6,
		ListDeadline:         5 * time.Second,
		FolderCacheTTL:       time.Minute,
		FolderCacheBackend:   "memory",
		FolderScanDeadline:   10 * time.Second,
		ReconcileJobTimeout:  time.Hour,
	}
	db, err := models.OpenSQLite(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatal(err)
	}
	a, err := app.Build(cfg, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)

	admin := NewAdminHandler(cfg, a.Lister, a.Cache, a.Classifier, a.Customers, a.Audit)
	media := NewMediaHandler(a.Media)
	reconcile := NewReconcileHandler(cfg, a.Reconciler, a.Jobs, a.Cache)
	health := NewHealthHandler(db, nil)

	r := gin.New()
	r.GET("/health", health.Health)
	g := r.Group("/admin", func(c *gin.Context) {
		c.Set(middleware.ContextUsername, "tester")
		c.Next()
	})
	g.GET("/folders", admin.GetFolders)
	g.GET("/folders/browse", admin.BrowseFolder)
	g.POST("/classify", admin.Classify)
	g.GET("/images", media.GetImages)
	g.GET("/images/:id", media.GetImage)
	g.POST("/images", media.UploadImage)
	g.POST("/reconcile", reconcile.Reconcile)
	g.GET("/reconcile/jobs", reconcile.GetJobs)
	g.GET("/reconcile/jobs/:id", reconcile.GetJob)
	g.POST("/reconcile/jobs/:id/resume", reconcile.ResumeJob)

	return &testServer{app: a, router: r}
}

func (s *testServer) put(t *testing.T, key string) {
	t.Helper()
	if err := s.app.Store.Upload(context.Background(), key, bytes.NewReader(pngHeader), "image/png"); err != nil {
		t.Fatal(err)
	}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]json.RawMessage
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestReconcileSync(t *testing.T) {
	s := newTestServer(t)
	s.put(t, "originals/customers/parksungwoo-6003/2026-01-25/a.jpg")
	s.put(t, "originals/customers/parksungwoo-6003/2026-01-25/b.jpg")

	w, body := s.do(t, http.MethodPost, "/admin/reconcile", gin.H{"root": "originals"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	var report services.Report
	decode(t, body["report"], &report)
	if report.Created != 2 || report.Writes != 2 || report.Partial {
		t.Fatalf("report = %+v", report)
	}

	w, body = s.do(t, http.MethodPost, "/admin/reconcile", gin.H{"root": "originals"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	decode(t, body["report"], &report)
	if report.Writes != 0 || report.Unchanged != 2 {
		t.Fatalf("second pass = %+v", report)
	}

	w, body = s.do(t, http.MethodGet, "/admin/images?folder=originals/customers/parksungwoo-6003", nil)
	var images []models.ImageMetadata
	decode(t, body["images"], &images)
	if w.Code != http.StatusOK || len(images) != 2 {
		t.Fatalf("images = %d %s", w.Code, w.Body)
	}
}

func TestReconcileValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing root", gin.H{}, http.StatusBadRequest},
		{"negative depth", gin.H{"root": "originals", "max_depth": -1}, http.StatusBadRequest},
		{"traversal", gin.H{"root": "../etc"}, http.StatusBadRequest},
		{"async without queue", gin.H{"root": "originals", "async": true}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, _ := s.do(t, http.MethodPost, "/admin/reconcile", tt.body); w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestReconcileJobs(t *testing.T) {
	s := newTestServer(t)

	job, err := s.app.Jobs.Create(context.Background(), services.JobRequest{Root: "originals", MaxDepth: 2, RequestedBy: "tester"})
	if err != nil {
		t.Fatal(err)
	}

	w, body := s.do(t, http.MethodGet, "/admin/reconcile/jobs/"+job.ID.String(), nil)
	var got models.ReconcileJob
	decode(t, body["job"], &got)
	if w.Code != http.StatusOK || got.ID != job.ID || got.Root != "originals" {
		t.Fatalf("job = %d %+v", w.Code, got)
	}

	w, body = s.do(t, http.MethodGet, "/admin/reconcile/jobs?root=originals", nil)
	var jobs []models.ReconcileJob
	decode(t, body["jobs"], &jobs)
	if w.Code != http.StatusOK || len(jobs) != 1 {
		t.Fatalf("jobs = %d %s", w.Code, w.Body)
	}

	if w, _ := s.do(t, http.MethodGet, "/admin/reconcile/jobs/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, "/admin/reconcile/jobs/nope", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/admin/reconcile/jobs/"+job.ID.String()+"/resume", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("resume without queue status = %d", w.Code)
	}
}

func TestGetFolders(t *testing.T) {
	s := newTestServer(t)
	s.put(t, "originals/customers/parksungwoo-6003/2026-01-25/a.jpg")
	s.put(t, "originals/customers/ahnhuija-42/b.jpg")

	w, body := s.do(t, http.MethodGet, "/admin/folders?root=originals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	var snap services.FolderSnapshot
	decode(t, body["data"], &snap)
	var cached bool
	decode(t, body["cached"], &cached)
	if snap.FileCount != 2 || snap.Partial || cached {
		t.Fatalf("snapshot = %+v cached=%v", snap, cached)
	}

	_, body = s.do(t, http.MethodGet, "/admin/folders?root=originals", nil)
	decode(t, body["cached"], &cached)
	if !cached {
		t.Fatal("second call not served from cache")
	}

	if w, _ := s.do(t, http.MethodGet, "/admin/folders?root=../x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid root status = %d", w.Code)
	}
}

func TestClassify(t *testing.T) {
	s := newTestServer(t)
	folder := "parksungwoo-6003"
	if err := s.app.DB.Create(&models.Customer{ID: 7, Name: "Park", FolderName: &folder}).Error; err != nil {
		t.Fatal(err)
	}

	w, body := s.do(t, http.MethodPost, "/admin/classify", gin.H{"inputs": []string{
		"originals/customers/parksungwoo-6003/2026-01-25/swing.jpg",
		"banner_main.png",
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	var results []classifyResult
	decode(t, body["results"], &results)
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].CustomerFolder != folder || results[0].CustomerID == nil || *results[0].CustomerID != 7 {
		t.Errorf("customer = %+v", results[0])
	}
	if results[1].CustomerID != nil {
		t.Errorf("banner resolved to a customer: %+v", results[1])
	}

	if w, _ := s.do(t, http.MethodPost, "/admin/classify", gin.H{"inputs": []string{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty inputs status = %d", w.Code)
	}
}

func TestUploadImage(t *testing.T) {
	s := newTestServer(t)

	upload := func(folder, name string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if folder != "" {
			_ = mw.WriteField("folder", folder)
		}
		fw, _ := mw.CreateFormFile("file", name)
		_, _ = fw.Write(data)
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/admin/images", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := upload("originals/customers/ahnhuija-42/2026-02-01", "putt.png", pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	var body struct {
		Image models.ImageMetadata `json:"image"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Image.FilePath != "originals/customers/ahnhuija-42/2026-02-01/putt.png" {
		t.Fatalf("file_path = %q", body.Image.FilePath)
	}

	gw, _ := s.do(t, http.MethodGet, "/admin/images/"+body.Image.ID.String(), nil)
	if gw.Code != http.StatusOK {
		t.Fatalf("get status = %d", gw.Code)
	}

	if w := upload("", "putt.png", pngHeader); w.Code != http.StatusBadRequest {
		t.Fatalf("missing folder status = %d", w.Code)
	}
	if w := upload("originals", "notes.txt", []byte("hello")); w.Code != http.StatusBadRequest {
		t.Fatalf("text upload status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/health", nil)
	var status, redis string
	decode(t, body["status"], &status)
	decode(t, body["redis"], &redis)
	if w.Code != http.StatusOK || status != "ok" || redis != "disabled" {
		t.Fatalf("health = %d %s", w.Code, w.Body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", services.ErrInvalidPath), http.StatusBadRequest},
		{services.ErrInvalidInput, http.StatusBadRequest},
		{services.ErrJobRunning, http.StatusConflict},
		{services.ErrAlreadyExists, http.StatusConflict},
		{services.ErrInvalidLogin, http.StatusUnauthorized},
		{services.ErrQueueDisabled, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
