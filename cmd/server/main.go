package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-engine/config"
	"settlement-engine/internal/api"
	"settlement-engine/internal/broker"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/redisclient"
	"settlement-engine/internal/service"
	"settlement-engine/internal/store"
	"settlement-engine/internal/transfer"
	"settlement-engine/internal/util"
	"settlement-engine/internal/worker"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting settlement engine")

	marketplace, err := cfg.Marketplace()
	if err != nil {
		logger.Fatal("Invalid marketplace configuration", zap.Error(err))
	}

	tp, err := util.InitTracer("settlement-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StateTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	// Local cache in front of Redis in front of Postgres. Postgres stays the
	// only writer of the compare-and-swap.
	sales := ledger.NewCached(
		ledger.NewCached(db, redisClient),
		ledger.NewLocalCache(cfg.Redis.StateTTL),
	)

	var custodian transfer.Custodian
	if cfg.Custody.URL != "" {
		custodian = transfer.NewHTTPCustodian(cfg.Custody.URL, cfg.Custody.Timeout, cfg.Custody.Retries)
		logger.Info("Using custody service", zap.String("url", cfg.Custody.URL))
	} else {
		custodian = transfer.NewMemory(common.HexToAddress(cfg.Custody.Operator))
		logger.Warn("CUSTODY_URL not set, using in-memory custody")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	settlementService, err := service.NewSettlementService(marketplace, sales, custodian, eventPublisher,
		service.WithSettlements(db))
	if err != nil {
		logger.Fatal("Failed to create settlement service", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer, db)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Audit worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(settlementService, map[string]api.ReadinessCheck{
		"database": db.GetDB().PingContext,
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := auditWorker.Stop(); err != nil {
		logger.Error("Failed to stop audit worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
