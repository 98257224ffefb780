package app

import (
	"fmt"
	"log"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/fairwaygolf/assetsync/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the services shared by the HTTP server, the worker and the CLI.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Store      services.ObjectStore
	Classifier *services.Classifier
	Lister     *services.Lister
	Cache      *services.FolderCacheService
	Audit      *services.AuditService
	Reconciler *services.Reconciler
	Jobs       *services.JobService
	Media      *services.MediaService
	Customers  *services.CustomerService
	Auth       *services.AuthService

	queue *asynq.Client
}

// New connects the database, redis and object storage and builds every
// service on top of them.
func New(cfg *config.Config) (*App, error) {
	db, err := models.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	redisClient := models.InitRedis(cfg)

	a, err := Build(cfg, db, redisClient)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	return a, nil
}

// Build wires the services over existing connections. redisClient may be nil;
// the folder cache then stays in memory and async jobs are disabled.
func Build(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*App, error) {
	var store services.ObjectStore
	switch cfg.StorageDriver {
	case "local":
		store = services.NewStorageService(cfg)
		log.Printf("Object storage: local directory %s", cfg.LocalStoragePath)
	default:
		s3Service, err := services.NewS3Service(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init S3 service: %w", err)
		}
		store = s3Service
		log.Printf("Object storage: bucket %s at %s", cfg.StorageBucket, cfg.StorageS3Endpoint)
	}

	classifier, err := services.LoadClassifier(cfg.ClassifierRulesFile, cfg.CustomerFolderRoot)
	if err != nil {
		return nil, err
	}

	cacheStore := services.NewMemoryCacheStore()
	if cfg.FolderCacheBackend == "redis" && redisClient != nil {
		cacheStore = services.NewRedisCacheStore(redisClient)
	}

	a := &App{
		Config:     cfg,
		DB:         db,
		Redis:      redisClient,
		Store:      store,
		Classifier: classifier,
		Lister:     services.NewLister(store, cfg.ListBatchSize),
		Cache:      services.NewFolderCacheService(cacheStore, cfg.FolderCacheTTL),
		Audit:      services.NewAuditService(db),
		Customers:  services.NewCustomerService(db),
		Auth:       services.NewAuthService(redisClient, cfg),
	}
	a.Reconciler = services.NewReconciler(db, store, a.Lister, classifier, a.Audit)
	a.Jobs = services.NewJobService(db, a.Reconciler, a.Lister, a.Cache, cfg.ReconcileJobTimeout)
	a.Media = services.NewMediaService(db, cfg, store, a.Reconciler, a.Audit, a.Cache)

	if redisClient != nil && cfg.AsynqQueue != "" {
		a.queue = asynq.NewClient(worker.RedisOpt(cfg))
		a.Jobs.SetEnqueuer(worker.NewEnqueuer(a.queue, cfg.AsynqQueue, cfg.ReconcileJobTimeout))
	}
	return a, nil
}

// Worker builds the asynq server that runs queued reconcile jobs.
func (a *App) Worker() (*asynq.Server, *asynq.ServeMux) {
	return worker.NewServer(a.Config, worker.NewHandler(a.Jobs))
}

func (a *App) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Printf("Failed to close task queue client: %v", err)
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
