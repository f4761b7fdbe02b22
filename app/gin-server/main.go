package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/config"
	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/api/handlers"
	"github.com/dawos/agent/internal/api/middleware"
	"github.com/dawos/agent/internal/api/routes"
	"github.com/dawos/agent/internal/cache"
	"github.com/dawos/agent/internal/knowledge"
	"github.com/dawos/agent/internal/logger"
	"github.com/dawos/agent/internal/monitor"
	mongorepo "github.com/dawos/agent/internal/repositories/mongo"
	pgrepo "github.com/dawos/agent/internal/repositories/postgres"
	"github.com/dawos/agent/internal/services"
	"github.com/dawos/agent/internal/storage"
	"github.com/dawos/agent/internal/tools"
	"github.com/dawos/agent/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		log.WithError(err).Fatal("agent config")
	}

	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}
	log.Info("MongoDB connected")

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.MigratePostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL migration error")
	}
	log.Info("PostgreSQL connected")

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stores
	mdb := config.MongoDatabase()
	frameLog := mongorepo.NewFrameLogRepo(mdb, cfg.FrameTTL)
	sessionRepo := mongorepo.NewSessionRepo(mdb)
	historyRepo := mongorepo.NewHistoryRepo(mdb)
	runRepo := pgrepo.NewRunRepo(config.PostgresDB)
	redisCache := cache.NewRedisCache(config.RedisClient)

	// monitoring core
	table := monitor.NewTable()
	buffers := services.NewBufferService(table, frameLog, sessionRepo, log)
	sessions := services.NewSessionService(table, sessionRepo, historyRepo, redisCache, log)

	// knowledge
	var retriever knowledge.Retriever
	embedder, err := config.NewEmbedder(*cfg)
	if err != nil {
		log.WithError(err).Fatal("embedder init error")
	}
	if embedder != nil {
		retriever = knowledge.NewRetriever(pgrepo.NewKnowledgeRepo(config.PostgresDB), embedder, redisCache, 0, log)
	} else {
		log.Warn("no embedding key configured; knowledge tools disabled")
	}

	registry, err := tools.NewDefaultRegistry(tools.Deps{
		Knowledge:  retriever,
		Buffer:     buffers,
		Sessions:   sessions,
		SearchTopK: cfg.KnowledgeTopK,
	})
	if err != nil {
		log.WithError(err).Fatal("tool registry")
	}

	provider, err := config.NewLLMProvider(rootCtx, *cfg)
	if err != nil {
		log.WithError(err).Fatal("llm provider init error")
	}
	defer provider.Close()

	docs := registry.Docs()
	ctrl := agent.NewController(provider, registry, agent.SystemPrompt(docs), cfg.Controller(), log)

	// run log and optional archive
	var archive services.ArchiveService
	if cfg.ArchiveBucket != "" {
		gcs, err := storage.NewGCSUploader(rootCtx, cfg.ArchiveBucket)
		if err != nil {
			log.WithError(err).Fatal("GCS init error")
		}
		defer gcs.Close()
		archive = services.NewArchiveService(gcs, gcs, cfg.ArchivePrefix)
	}
	runs := services.NewRunService(runRepo, archive, log)

	pool := workers.NewPool(cfg.WorkerPoolSize)
	agentSvc := services.NewAgentService(ctrl, docs, pool, buffers, runs, log)

	// frame pipeline
	processor := &workers.FrameProcessor{
		Buffers:   buffers,
		Agent:     agentSvc,
		Publisher: config.RedisClient,
		Logger:    log,
		Pool:      pool,
	}
	host, _ := os.Hostname()
	consumers := &workers.FrameWorkerPool{
		Redis:          config.RedisClient,
		Processor:      processor,
		NumWorkers:     cfg.FrameConsumers,
		Logger:         log,
		Stream:         cfg.FrameStream,
		Group:          cfg.FrameGroup,
		ConsumerPrefix: host,
	}
	consumerCtx, stopConsumers := context.WithCancel(rootCtx)
	defer stopConsumers()
	if err := consumers.Start(consumerCtx); err != nil {
		log.WithError(err).Fatal("frame consumers")
	}
	queue := &workers.FrameQueue{Redis: config.RedisClient, Stream: cfg.FrameStream, MaxLen: 100000}

	// http
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/ping", "/health"))

	routes.RegisterRoutes(r, routes.Deps{
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"mongo":    func(ctx context.Context) error { return config.MongoClient.Ping(ctx, nil) },
			"postgres": func(ctx context.Context) error { return pingPostgres(ctx) },
			"redis":    func(ctx context.Context) error { return config.RedisClient.Ping(ctx).Err() },
		}),
		Agent:   handlers.NewAgentHandler(agentSvc, runs),
		Monitor: handlers.NewMonitorHandler(sessions, agentSvc, queue),
		WS:      handlers.NewWSHandler(sessions, queue, config.RedisClient, log),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")
	shutdown(log, srv, stopConsumers, consumers, processor, pool)
}

func pingPostgres(ctx context.Context) error {
	sqlDB, err := config.PostgresDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// shutdown stops intake first, then drains background work, then closes stores.
func shutdown(log *logrus.Logger, srv *http.Server, stopConsumers context.CancelFunc,
	consumers *workers.FrameWorkerPool, processor *workers.FrameProcessor, pool *workers.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	stopConsumers()
	if err := consumers.Wait(ctx); err != nil {
		log.WithError(err).Warn("frame consumers did not stop in time")
	}
	if err := processor.Drain(ctx); err != nil {
		log.WithError(err).Warn("pending consultations abandoned")
	}
	if err := pool.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("worker pool did not drain")
	}

	if err := config.RedisClient.Close(); err != nil {
		log.WithError(err).Warn("redis close")
	}
	if err := config.MongoClient.Disconnect(ctx); err != nil {
		log.WithError(err).Warn("mongo disconnect")
	}
	if sqlDB, err := config.PostgresDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("shutdown complete")
}
