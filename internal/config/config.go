package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port           string
	Env            string
	RequestTimeout time.Duration

	// Database
	DBDriver    string // "postgres" | "sqlite"
	SQLitePath  string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret              string
	JWTAccessTokenDuration time.Duration

	// Admin
	AdminUsername     string
	AdminPasswordHash string

	// Object storage (Supabase S3-compatible endpoint, or a local directory)
	StorageDriver        string // "s3" | "local"
	LocalStoragePath     string
	StorageS3Endpoint    string
	StorageS3Region      string
	StorageAccessKeyID   string
	StorageSecretKey     string
	StorageUsePathStyle  bool
	StorageBucket        string
	StoragePublicBaseURL string
	StorageUploadRetries int
	UploadMaxImageSize   int64
	CustomerFolderRoot   string
	ClassifierRulesFile  string

	// Listing
	ListBatchSize int
	ListMaxDepth  int
	ListDeadline  time.Duration
	ListPageLimit int32

	// Folder cache
	FolderCacheTTL     time.Duration
	FolderCacheBackend string // "memory" | "redis"
	FolderScanDeadline time.Duration

	// Reconcile jobs
	WorkerEnabled       bool
	WorkerConcurrency   int
	AsynqQueue          string
	ReconcileJobTimeout time.Duration

	// Security
	RateLimitRequests int
	RateLimitDuration time.Duration
	AdminActionLimit  int
	AdminActionWindow time.Duration
	UploadDailyLimit  int

	// CORS
	AllowedOrigins []string
}

func New() *Config {
	return &Config{
		// Server
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", "60s"),

		// Database
		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		SQLitePath:  getEnv("DB_SQLITE_PATH", "assetsync.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "postgres"),
		DBSSLMode:   getEnv("DB_SSL_MODE", "require"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:              getEnv("JWT_SECRET", "your-secret-key"),
		JWTAccessTokenDuration: getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "12h"),

		// Admin
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		// Object storage
		StorageDriver:        getEnv("STORAGE_DRIVER", "s3"),
		LocalStoragePath:     getEnv("LOCAL_STORAGE_PATH", "/data/blog-images"),
		StorageS3Endpoint:    getEnv("STORAGE_S3_ENDPOINT", supabaseS3Endpoint()),
		StorageS3Region:      getEnv("STORAGE_S3_REGION", "ap-northeast-2"),
		StorageAccessKeyID:   getEnv("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretKey:     getEnv("STORAGE_SECRET_ACCESS_KEY", getEnv("SUPABASE_SERVICE_ROLE_KEY", "")),
		StorageUsePathStyle:  getEnvAsBool("STORAGE_USE_PATH_STYLE", true),
		StorageBucket:        getEnv("STORAGE_BUCKET", "blog-images"),
		StoragePublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", supabasePublicBase()),
		StorageUploadRetries: getEnvAsInt("STORAGE_UPLOAD_RETRIES", 1),
		UploadMaxImageSize:   int64(getEnvAsInt("UPLOAD_MAX_IMAGE_SIZE", 20*1024*1024)),
		CustomerFolderRoot:   getEnv("CUSTOMER_FOLDER_ROOT", "originals/customers"),
		ClassifierRulesFile:  getEnv("CLASSIFIER_RULES_FILE", ""),

		// Listing
		ListBatchSize: getEnvAsInt("LIST_BATCH_SIZE", 10),
		ListMaxDepth:  getEnvAsInt("LIST_MAX_DEPTH", 6),
		ListDeadline:  getEnvAsDuration("LIST_DEADLINE", "45s"),
		ListPageLimit: int32(getEnvAsInt("LIST_PAGE_LIMIT", 1000)),

		// Folder cache
		FolderCacheTTL:     getEnvAsDuration("FOLDER_CACHE_TTL", "5m"),
		FolderCacheBackend: getEnv("FOLDER_CACHE_BACKEND", "memory"),
		FolderScanDeadline: getEnvAsDuration("FOLDER_SCAN_DEADLINE", "5m"),

		// Reconcile jobs
		WorkerEnabled:       getEnvAsBool("WORKER_ENABLED", true),
		WorkerConcurrency:   getEnvAsInt("WORKER_CONCURRENCY", 2),
		AsynqQueue:          getEnv("ASYNQ_QUEUE", "reconcile"),
		ReconcileJobTimeout: getEnvAsDuration("RECONCILE_JOB_TIMEOUT", "2h"),

		// Security
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),
		AdminActionLimit:  getEnvAsInt("ADMIN_ACTION_LIMIT", 50),
		AdminActionWindow: getEnvAsDuration("ADMIN_ACTION_WINDOW", "10m"),
		UploadDailyLimit:  getEnvAsInt("UPLOAD_DAILY_LIMIT", 500),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

// Validate reports every misconfiguration at once so the process fails at
// startup instead of at first use.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" && (c.DBHost == "" || c.DBName == "") {
			errs = append(errs, errors.New("DATABASE_URL or DB_HOST/DB_NAME must be set"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("DB_SQLITE_PATH must be set when DB_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.StorageBucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET must be set"))
	}
	switch c.StorageDriver {
	case "s3":
		if c.StorageS3Endpoint == "" {
			errs = append(errs, errors.New("STORAGE_S3_ENDPOINT or NEXT_PUBLIC_SUPABASE_URL must be set"))
		}
	case "local":
		if c.LocalStoragePath == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_PATH must be set when STORAGE_DRIVER=local"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be s3 or local, got %q", c.StorageDriver))
	}
	if c.StoragePublicBaseURL == "" {
		errs = append(errs, errors.New("STORAGE_PUBLIC_BASE_URL or NEXT_PUBLIC_SUPABASE_URL must be set"))
	}
	if c.JWTSecret == "" || (c.IsProduction() && c.JWTSecret == "your-secret-key") {
		errs = append(errs, errors.New("JWT_SECRET must be set to a non-default value"))
	}
	if c.ListBatchSize < 1 {
		errs = append(errs, fmt.Errorf("LIST_BATCH_SIZE must be >= 1, got %d", c.ListBatchSize))
	}
	if c.ListMaxDepth < 0 {
		errs = append(errs, fmt.Errorf("LIST_MAX_DEPTH must be >= 0, got %d", c.ListMaxDepth))
	}
	if c.FolderCacheTTL <= 0 {
		errs = append(errs, errors.New("FOLDER_CACHE_TTL must be positive"))
	}
	if c.ListDeadline >= c.RequestTimeout {
		errs = append(errs, fmt.Errorf("LIST_DEADLINE (%s) must be shorter than REQUEST_TIMEOUT (%s)", c.ListDeadline, c.RequestTimeout))
	}
	if c.FolderCacheBackend != "memory" && c.FolderCacheBackend != "redis" {
		errs = append(errs, fmt.Errorf("FOLDER_CACHE_BACKEND must be memory or redis, got %q", c.FolderCacheBackend))
	}
	if c.FolderScanDeadline < c.ListDeadline {
		errs = append(errs, fmt.Errorf("FOLDER_SCAN_DEADLINE (%s) must not be shorter than LIST_DEADLINE (%s)", c.FolderScanDeadline, c.ListDeadline))
	}
	if c.StorageUploadRetries < 0 {
		errs = append(errs, errors.New("STORAGE_UPLOAD_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// supabaseS3Endpoint derives the storage S3 endpoint from the Supabase project URL.
func supabaseS3Endpoint() string {
	base := strings.TrimRight(os.Getenv("NEXT_PUBLIC_SUPABASE_URL"), "/")
	if base == "" {
		return ""
	}
	return base + "/storage/v1/s3"
}

func supabasePublicBase() string {
	base := strings.TrimRight(os.Getenv("NEXT_PUBLIC_SUPABASE_URL"), "/")
	if base == "" {
		return ""
	}
	return base + "/storage/v1/object/public"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Minute
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
