package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campaignengine/internal/batch"
	"campaignengine/internal/config"
	"campaignengine/internal/dispatch"
	"campaignengine/internal/handler"
	"campaignengine/internal/logger"
	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
	"campaignengine/internal/queue"
	"campaignengine/internal/repository"
	"campaignengine/internal/scheduler"
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

	notifier, err := queue.NewNotificationPublisher(conn, cfg.RabbitMQ.NotificationQueue)
	if err != nil {
		log.Fatal("Failed to create notification publisher", zap.Error(err))
	}

	campaignRepo := repository.NewCampaignRepository(db)
	logRepo := repository.NewLogRepository(db)

	// The batcher outlives the signal context so late acks still get flushed
	batcher := batch.New(logRepo, batch.Config{
		Size:          cfg.Batch.Size,
		FlushInterval: cfg.Batch.FlushInterval,
	}, log)
	batcher.Start(context.Background())

	group := tasks.New(log)

	senders := map[models.Channel]dispatch.Sender{
		models.ChannelEmail: dispatch.NewSimulatedSender(models.ChannelEmail, cfg.Delivery.SuccessRate, cfg.Delivery.MinLatency, cfg.Delivery.MaxLatency),
		models.ChannelSMS:   dispatch.NewSimulatedSender(models.ChannelSMS, cfg.Delivery.SuccessRate, cfg.Delivery.MinLatency, cfg.Delivery.MaxLatency),
	}
	dispatcher := dispatch.New(senders, batcher, group, dispatch.Config{
		AckDelay: cfg.Delivery.AckDelay,
		Phone: dispatch.PhoneNormalizer{
			CountryCode: cfg.Delivery.CountryCode,
			MinDigits:   cfg.Delivery.MinDigits,
			MaxDigits:   cfg.Delivery.MaxDigits,
		},
	}, log)

	campaignSvc := service.NewCampaignService(
		service.Repositories{
			Campaigns: campaignRepo,
			Logs:      logRepo,
			Customers: repository.NewCustomerRepository(db),
			Segments:  repository.NewSegmentRepository(db),
		},
		service.NewTemplateService(),
		dispatcher,
		notifier,
		batcher,
		group,
		service.Config{GraceWindow: cfg.Completion.GraceWindow},
		log,
	)

	resumed, err := campaignSvc.ResumeRunning(ctx)
	if err != nil {
		log.Error("Failed to resume running campaigns", zap.Error(err))
	} else if resumed > 0 {
		log.Info("Resumed running campaigns", zap.Int("count", resumed))
	}

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.ReceiptQueue, queue.ReceiptHandler(batcher.Submit), log)
	if err != nil {
		log.Fatal("Failed to create consumer", zap.Error(err))
	}

	sched := scheduler.New(campaignRepo, campaignSvc, cfg.Scheduler.Interval, log)
	sweeper := scheduler.NewCompletionSweeper(campaignSvc, cfg.Completion.SweepInterval, log)
	healthSvc := service.NewHealthService(db, conn, version)

	server := &http.Server{
		Addr:              ":" + cfg.Server.WorkerMetricsPort,
		Handler:           opsRouter(healthSvc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		log.Info("Worker metrics server starting", zap.String("port", cfg.Server.WorkerMetricsPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("Worker started",
		zap.String("receipt_queue", cfg.RabbitMQ.ReceiptQueue),
		zap.String("environment", cfg.Env))

	if err := g.Wait(); err != nil {
		log.Error("Worker stopped with error", zap.Error(err))
	}

	log.Info("Shutting down gracefully")

	// Dispatch runs and pending acks drain into the batcher before its final flush
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := group.Shutdown(shutdownCtx); err != nil {
		log.Warn("Background tasks cancelled before finishing", zap.Error(err))
	}
	batcher.Stop()

	log.Info("Worker stopped")
}

func opsRouter(health *service.HealthChecker) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", handler.NewHealthHandler(health).HandleHealth).Methods(http.MethodGet)
	return r
}
