package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	submit "btr-application-api/internal/api/application/submit-application"
	"btr-application-api/internal/common/config"
	"btr-application-api/internal/common/database"
	"btr-application-api/internal/common/logger"
	"btr-application-api/internal/common/observability"
	"btr-application-api/internal/models"
	"btr-application-api/internal/server"
	applicationstore "btr-application-api/internal/store/application"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.FromConfig(cfg.Logging)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting BTR application API...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	// A database that never answers is not fatal: the API starts, /ready
	// reports 503 and submissions fail with 500 until it comes back.
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		zapLog.Error("postgres client could not be created", zap.Error(err))
	} else {
		err = retryWithBackoff(func() error {
			return pg.Ping(ctx)
		}, 5, time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Error("postgres unreachable, starting unready", zap.Error(err))
		} else {
			zapLog.Info("PostgreSQL connected successfully")
		}
	}
	defer pg.Close()

	// --- Sequencer ---
	var (
		sequencer applicationstore.Sequencer
		rdb       *database.RedisClient
	)
	switch cfg.Sequence.Backend {
	case config.SequenceBackendRedis:
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			zapLog.Fatal("redis client could not be created", zap.Error(err))
		}
		err = retryWithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Error("redis unreachable, submissions will fail until it answers", zap.Error(err))
		} else {
			zapLog.Info("Redis connected successfully")
		}
		defer rdb.Close()
		sequencer = applicationstore.NewRedisSequencer(rdb.GetClient(), cfg.Sequence.KeyPrefix, cfg.Application.IDPrefix)
	case config.SequenceBackendCount:
		zapLog.Warn("count sequencer selected: concurrent submissions may collide on applicationId")
		sequencer = applicationstore.NewCountSequencer()
	default:
		sequencer = applicationstore.NewPostgresSequencer()
	}

	// --- Optional search mirror ---
	storeOpts := []applicationstore.Option{applicationstore.WithObservability(obs)}
	if cfg.Database.Postgres.AutoMigrate {
		// Tables are created on the first successful ping or submission, so
		// a database that comes up after the API is still migrated.
		storeOpts = append(storeOpts, applicationstore.WithAutoMigrate())
	}
	if cfg.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Elasticsearch, nil)
		if err != nil {
			zapLog.Error("elasticsearch client could not be created, search mirror disabled", zap.Error(err))
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := es.Ping(pingCtx); err != nil {
				zapLog.Warn("elasticsearch ping failed, index writes will be retried per submission", zap.Error(err))
			}
			cancel()
			storeOpts = append(storeOpts, applicationstore.WithIndexer(
				applicationstore.NewElasticsearchIndexer(es.Client, cfg.Elasticsearch.Index)))
			zapLog.Info("Elasticsearch mirror enabled", zap.String("index", cfg.Elasticsearch.Index))
		}
	}

	store, err := applicationstore.New(pg.GetDB(), sequencer, models.ApplicationDefaults{
		IDPrefix:     cfg.Application.IDPrefix,
		AcademicYear: cfg.Application.AcademicYear,
		Semester:     cfg.Application.Semester,
		Status:       cfg.Application.DefaultStatus,
	}, log, storeOpts...)
	if err != nil {
		zapLog.Fatal("application store init failed", zap.Error(err))
	}
	if err := store.Ping(ctx); err != nil {
		zapLog.Warn("application store not ready yet", zap.Error(err))
	}

	handler := submit.NewHandler(submit.ConfigFromAPI(cfg.API), store, obs, log)
	srv := server.New(cfg.Server, log, store, handler)

	go func() {
		if err := srv.Start(); err != nil {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("BTR application API stopped gracefully")
}
