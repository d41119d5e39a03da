package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jimdaga/amma-portal/internal/assistant"
	"github.com/jimdaga/amma-portal/internal/auth"
	"github.com/jimdaga/amma-portal/internal/config"
	"github.com/jimdaga/amma-portal/internal/database"
	"github.com/jimdaga/amma-portal/internal/emr"
	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/health"
	"github.com/jimdaga/amma-portal/internal/logging"
	"github.com/jimdaga/amma-portal/internal/middleware"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patients"
	"github.com/jimdaga/amma-portal/internal/server"
	"github.com/jimdaga/amma-portal/internal/session"
	"github.com/jimdaga/amma-portal/internal/storage"
	"github.com/jimdaga/amma-portal/internal/streams"
	"github.com/jimdaga/amma-portal/internal/templates"
	"github.com/jimdaga/amma-portal/internal/videogen"
	"github.com/jimdaga/amma-portal/internal/worker"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("Starting Amma portal", "env", cfg.Env, "mode", cfg.Mode, "port", cfg.Port)

	if cfg.EncryptionKey != "" {
		if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
			log.Fatalf("Failed to initialize encryption: %v", err)
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set. Clinical notes are stored unencrypted.")
	}

	db, err := database.Init(cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if cfg.SeedDevData {
		if err := database.SeedDevData(db); err != nil {
			log.Fatalf("Failed to seed development data: %v", err)
		}
	}

	ctx := context.Background()

	bucket, memory, err := newBucket(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	fileSvc := files.NewService(db, bucket, files.WithLimits(cfg.MaxUploadBytes, cfg.InlineFallbackBytes))

	registry, err := templates.LoadRegistry(cfg.TemplateDir)
	if err != nil {
		log.Fatalf("Failed to load video templates: %v", err)
	}
	logger.Info("Video templates loaded", "count", registry.Count())

	sessions := session.NewManager(session.NewGormRepository(db), cfg.SessionTTL, session.WithLogger(logger))
	runs := videogen.NewRuns(db, fileSvc, registry)

	if err := worker.InitClient(cfg.RedisURL); err != nil {
		log.Fatalf("Failed to initialize task client: %v", err)
	}
	defer worker.CloseClient()

	deps := worker.Deps{
		Runs:        runs,
		Generator:   videogen.NewClient(cfg.VideoRendererURL, cfg.VideoRendererSecret, cfg.VideoTransport == worker.TransportStub),
		Sessions:    sessions,
		Files:       fileSvc,
		Transport:   cfg.VideoTransport,
		OrphanGrace: cfg.OrphanGrace,
	}

	if cfg.Mode == "worker" {
		stopBackground, err := startBackground(cfg, &deps)
		if err != nil {
			log.Fatalf("Failed to start background services: %v", err)
		}
		defer stopBackground()

		// Blocks until SIGINT or SIGTERM
		if err := worker.Run(cfg, deps); err != nil {
			log.Fatalf("Worker error: %v", err)
		}
		return
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create Redis client: %v", err)
	}
	defer rdb.Close()

	router, err := server.NewRouter(cfg, newRouterDeps(ctx, cfg, logger, db, rdb, sessions, fileSvc, memory, runs))
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	var stopWorker, stopBackground func()
	if cfg.Mode == "embedded" {
		stopBackground, err = startBackground(cfg, &deps)
		if err != nil {
			log.Fatalf("Failed to start background services: %v", err)
		}
		stopWorker, err = worker.Start(cfg, deps)
		if err != nil {
			log.Fatalf("Failed to start worker: %v", err)
		}
		logger.Info("Worker running in embedded mode")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if stopWorker != nil {
		stopWorker()
	}
	if stopBackground != nil {
		stopBackground()
	}
	logger.Info("Shutdown complete")
}

// startBackground starts the maintenance scheduler and, for the stream
// transport, the publisher and result consumer. The publisher is stored in deps.
func startBackground(cfg *config.Config, deps *worker.Deps) (stop func(), err error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	stopScheduler, err := worker.StartScheduler(cfg)
	if err != nil {
		return nil, err
	}
	stops = append(stops, stopScheduler)

	if cfg.VideoTransport == worker.TransportStream {
		publisher, err := streams.NewPublisher(cfg.RedisURL)
		if err != nil {
			stopAll()
			return nil, err
		}
		deps.Publisher = publisher
		stops = append(stops, func() { publisher.Close() })

		stopConsumer, err := streams.StartResultConsumer(cfg.RedisURL, deps.Runs)
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stopConsumer)
	}

	return stopAll, nil
}

func newRouterDeps(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *gorm.DB,
	rdb *redis.Client,
	sessions *session.Manager,
	fileSvc *files.Service,
	memory *storage.MemoryBucket,
	runs *videogen.Runs,
) server.Deps {
	auth.InitProviders(cfg)

	var verifier auth.Verifier
	if cfg.GoogleClientID != "" {
		verifier = auth.NewGoogleVerifier(ctx, cfg.GoogleClientID)
	}

	directory, err := emr.NewDemoDirectory()
	if err != nil {
		log.Fatalf("Failed to load demo EMR records: %v", err)
	}
	snapshots := emr.NewService(db, directory)

	var completer assistant.Completer
	if chat := assistant.NewChatClient(cfg.AssistantAPIURL, cfg.AssistantAPIKey, cfg.AssistantModel); chat != nil {
		completer = chat
	} else {
		logger.Warn("ASSISTANT_API_KEY not set. Chat uses keyword replies only.")
	}

	connector := emr.NewConnector(db, emr.ConnectorConfig{
		ClientID:    cfg.EMRClientID,
		AuthURL:     cfg.EMRAuthURL,
		TokenURL:    cfg.EMRTokenURL,
		RedirectURL: cfg.EMRRedirectURL,
		FHIRBase:    cfg.EMRFHIRBase,
		Scopes:      cfg.EMRScopes,
	})

	return server.Deps{
		Logger:      logger,
		DB:          db,
		Sessions:    sessions,
		Bridge:      auth.NewBridge(db, sessions),
		Verifier:    verifier,
		Roster:      patients.NewRoster(db),
		Files:       fileSvc,
		Memory:      memory,
		Snapshots:   snapshots,
		Connector:   connector,
		Runs:        runs,
		Enqueue:     worker.EnqueueGenerateVideo,
		Assistant:   assistant.NewService(completer, snapshots),
		RateCounter: middleware.NewRedisCounter(rdb),
		ReadyChecks: []health.Check{
			{Name: "database", Ping: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Ping: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}},
		},
	}
}

// newBucket returns the configured object store. The memory bucket is also
// returned so the router can serve its objects.
func newBucket(ctx context.Context, cfg *config.Config) (storage.Bucket, *storage.MemoryBucket, error) {
	if cfg.StorageDriver == "s3" {
		bucket, err := storage.NewS3Bucket(ctx, storage.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using S3 storage", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		return bucket, nil, nil
	}

	slog.Warn("Using in-memory storage. Uploaded files are lost on restart.")
	memory := storage.NewMemoryBucket(server.MemoryFilesPath)
	return memory, memory, nil
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}
