package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campaignengine/internal/config"
	"campaignengine/internal/dispatch"
	"campaignengine/internal/handler"
	"campaignengine/internal/logger"
	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
	"campaignengine/internal/queue"
	"campaignengine/internal/repository"
	"campaignengine/internal/service"
	"campaignengine/internal/tasks"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("Connected to database")

	dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
	conn, err := queue.NewConnection(dialCtx, cfg.GetRabbitMQURL(), log)
	cancelDial()
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	receipts, err := queue.NewReceiptPublisher(conn, cfg.RabbitMQ.ReceiptQueue)
	if err != nil {
		log.Fatal("Failed to create receipt publisher", zap.Error(err))
	}
	notifier, err := queue.NewNotificationPublisher(conn, cfg.RabbitMQ.NotificationQueue)
	if err != nil {
		log.Fatal("Failed to create notification publisher", zap.Error(err))
	}

	group := tasks.New(log)

	senders := map[models.Channel]dispatch.Sender{
		models.ChannelEmail: dispatch.NewSimulatedSender(models.ChannelEmail, cfg.Delivery.SuccessRate, cfg.Delivery.MinLatency, cfg.Delivery.MaxLatency),
		models.ChannelSMS:   dispatch.NewSimulatedSender(models.ChannelSMS, cfg.Delivery.SuccessRate, cfg.Delivery.MinLatency, cfg.Delivery.MaxLatency),
	}
	dispatcher := dispatch.New(senders, receipts, group, dispatch.Config{
		AckDelay: cfg.Delivery.AckDelay,
		Phone: dispatch.PhoneNormalizer{
			CountryCode: cfg.Delivery.CountryCode,
			MinDigits:   cfg.Delivery.MinDigits,
			MaxDigits:   cfg.Delivery.MaxDigits,
		},
	}, log)

	repos := service.Repositories{
		Campaigns: repository.NewCampaignRepository(db),
		Logs:      repository.NewLogRepository(db),
		Customers: repository.NewCustomerRepository(db),
		Segments:  repository.NewSegmentRepository(db),
	}

	campaignSvc := service.NewCampaignService(
		repos,
		service.NewTemplateService(),
		dispatcher,
		notifier,
		receipts,
		group,
		service.Config{GraceWindow: cfg.Completion.GraceWindow},
		log,
	)
	healthSvc := service.NewHealthService(db, conn, version)

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignSvc, log),
		handler.NewSegmentHandler(campaignSvc, log),
		handler.NewHealthHandler(healthSvc),
		log,
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("API server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("environment", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}

	// Dispatch runs cut short here are resumed by the worker on its next start
	if err := group.Shutdown(shutdownCtx); err != nil {
		log.Warn("Background tasks cancelled before finishing", zap.Error(err))
	}

	log.Info("API server stopped")
}
