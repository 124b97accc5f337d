package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rm4health/dashboard/pkg/analysis"
	"github.com/rm4health/dashboard/pkg/cache"
	"github.com/rm4health/dashboard/pkg/common/config"
	"github.com/rm4health/dashboard/pkg/common/database"
	"github.com/rm4health/dashboard/pkg/common/kafka"
	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/dataset"
	"github.com/rm4health/dashboard/pkg/gateway/middleware"
	"github.com/rm4health/dashboard/pkg/gateway/routes"
	"github.com/rm4health/dashboard/pkg/instrument"
	"github.com/rm4health/dashboard/pkg/normalizer"
	"github.com/rm4health/dashboard/pkg/observability/metrics"
	"github.com/rm4health/dashboard/pkg/redcap"
)

func main() {
	logger.Init()
	cfg := config.Load()

	policy, err := instrument.Load(cfg.PolicyFile)
	if err != nil {
		logger.Log.WithError(err).Warn("Instrument policy not loaded, using defaults")
		policy = instrument.DefaultPolicy()
	}

	client := redcap.NewClient(
		cfg.REDCapBaseURL,
		cfg.REDCapToken,
		cfg.REDCapTimeout,
		redcap.WithRetries(cfg.REDCapRetries, cfg.REDCapRetryBackoff),
	)

	var store cache.Cache
	if cfg.CacheBackend == "redis" {
		store = cache.NewRedisCache(database.GetRedis())
	} else {
		store = cache.NewMemoryCache()
	}

	var opts []dataset.Option
	if cfg.AuditEnabled {
		db, err := database.GetPostgres()
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to postgres")
		}
		repo := dataset.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate audit tables")
		}
		opts = append(opts, dataset.WithRepository(repo))
	}

	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.DashboardEventsTopic)
		defer producer.Close()
		opts = append(opts, dataset.WithProducer(producer))
	}

	service := dataset.NewService(
		client,
		normalizer.New(policy),
		store,
		analysis.NewRegistry(policy),
		cfg.DatasetCacheTTL,
		cfg.AnalysisCacheTTL,
		opts...,
	)

	// Apply invalidations announced by other workers.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(kafka.DashboardEventsTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			err := consumer.Consume(consumerCtx, func(ctx context.Context, event models.Event) error {
				if event.Type != models.EventCacheInvalidated {
					return nil
				}
				return service.InvalidateLocal(ctx)
			})
			if err != nil && consumerCtx.Err() == nil {
				logger.Log.WithError(err).Error("Event consumer stopped")
			}
		}()
	}

	// Setup router
	router := mux.NewRouter()

	// Middleware
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// API routes
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	routes.NewAnalysisHandler(service).Register(apiRouter)
	routes.NewDatasetHandler(service).Register(apiRouter)

	// Server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Dashboard API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Dashboard API...")

	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Dashboard API stopped")
}
