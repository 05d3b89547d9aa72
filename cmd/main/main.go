package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/graph"
	"gitlab.com/timkado/api/production-feedback-service/internal/healthcheck"
	"gitlab.com/timkado/api/production-feedback-service/internal/httpapi"
	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion"
	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	"gitlab.com/timkado/api/production-feedback-service/internal/marketplace"
	"gitlab.com/timkado/api/production-feedback-service/internal/notifier"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/internal/usecase"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

const emailEndpointPath = "/api/notifications/send-email"

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	companyID := cfg.Company.ID
	logger.Log.Info("Starting Production Feedback Service",
		zap.String("environment", cfg.Environment),
		zap.String("company_id", companyID),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("queue_url", cfg.Queue.URL),
		zap.Bool("marketplace_configured", cfg.Marketplace.Configured()),
	)

	// Initialize repositories
	repo, err := storage.NewRepo(cfg.Database, companyID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	feedbackRepo := storage.NewFeedbackRepoAdapter(repo)
	notificationRepo := storage.NewNotificationRepoAdapter(repo)

	// The publisher connection is optional: without it in-app delivery is skipped.
	publisherClient := initPublisher(cfg)
	var publisher usecase.Publisher
	if publisherClient != nil {
		publisher = publisherClient
	}

	emailSender, broadcastSender := initSenders(cfg)

	deliverer, err := usecase.NewNotificationDeliverer(
		cfg.Notify, cfg.WorkerPools.Delivery, companyID,
		notificationRepo, publisher, emailSender, broadcastSender, logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize notification delivery pool", zap.Error(err))
	}

	policy := usecase.NewDispatchPolicy(notificationRepo, nil, logger.Log)
	engine := usecase.NewTransitionEngine(feedbackRepo, policy, nil, logger.Log)

	syncWorker, err := usecase.NewMarketplaceSyncWorker(
		cfg.Marketplace, cfg.WorkerPools.Marketplace, feedbackRepo, policy,
		marketplace.NewClient(cfg.Marketplace), logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize marketplace worker pool", zap.Error(err))
	}
	syncWorker.SetNotificationSink(deliverer)

	feedbackService := usecase.NewFeedbackService(engine, feedbackRepo, syncWorker, deliverer, cfg.Cache.SummaryTTL, logger.Log)
	notificationService := usecase.NewNotificationService(notificationRepo, feedbackRepo, nil, deliverer, logger.Log)

	// Queue consumer
	conn := ingestion.NewConnectionManager(cfg.Queue.URL, "production-feedback-consumer-"+companyID, cfg.Queue.ReconnectDelay, nil, logger.Log)
	processor := usecase.NewProcessor(feedbackService, conn, cfg, companyID, logger.Log)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	// API server
	schema, err := graph.NewSchema(feedbackService, notificationService, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to build GraphQL schema", zap.Error(err))
	}
	apiServer := httpapi.NewServer(httpapi.Deps{
		Feedback:      feedbackService,
		Notifications: notificationService,
		Consumer:      processor,
		GraphQL:       graph.NewHandler(schema),
	}, httpapi.Options{
		CompanyID:            companyID,
		ExposeInternalErrors: cfg.Environment == "development",
	}, logger.Log)

	// Health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Metrics.Port), logger.Log)
	healthServer.AddCheck("database", repo.Ping)
	healthServer.AddCheck("queue", func(ctx context.Context) error {
		if !conn.Configured() {
			return nil
		}
		if !conn.IsConnected() {
			return errors.New("queue consumer is not connected")
		}
		return nil
	})

	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Metrics.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}

	healthServer.Start()
	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Metrics.Port)),
	)

	apiServer.Start(fmt.Sprintf(":%d", cfg.Server.Port))

	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	// Inbound traffic stops first, then the pools drain, then connections close.
	var ingress sync.WaitGroup
	ingress.Add(3)
	stopComponent(&ingress, "queue consumer", func() { processor.Stop() })
	stopComponent(&ingress, "API server", func() {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
		}
	})
	stopComponent(&ingress, "health check server", func() {
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		}
	})
	if !waitOrTimeout(shutdownCtx, &ingress) {
		logger.Log.Warn("[shutdown] Ingress shutdown timed out")
	}

	var pools sync.WaitGroup
	pools.Add(2)
	poolTimeout := time.Until(deadlineOf(shutdownCtx))
	stopComponent(&pools, "marketplace worker pool", func() { syncWorker.Stop(poolTimeout) })
	stopComponent(&pools, "delivery worker pool", func() { deliverer.Stop(poolTimeout) })
	if !waitOrTimeout(shutdownCtx, &pools) {
		logger.Log.Warn("[shutdown] Worker pools did not drain in time")
	}

	var conns sync.WaitGroup
	conns.Add(1)
	stopComponent(&conns, "connections", func() {
		if err := repo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close database connection", zap.Error(err))
		}
		if publisherClient != nil {
			publisherClient.Close()
		}
	})
	if waitOrTimeout(shutdownCtx, &conns) {
		logger.Log.Info("[shutdown] All components stopped gracefully")
	} else {
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Production Feedback Service shutdown complete")
}

// stopComponent runs stop in the background and marks wg done even on panic.
func stopComponent(wg *sync.WaitGroup, name string, stop func()) {
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping " + name)
		start := time.Now()
		stop()
		logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping "+name,
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})
}

func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(10 * time.Second)
}

// initPublisher connects the notification publisher and ensures its stream.
// Failures are logged and leave in-app delivery disabled.
func initPublisher(cfg *config.Config) *jetstream.Client {
	if cfg.Queue.URL == "" {
		logger.Log.Warn("No queue URL configured, in-app notification publishing disabled")
		return nil
	}
	client, err := jetstream.NewClient(cfg.Queue.URL, jetstream.Options{
		Name:          "production-feedback-publisher-" + cfg.Company.ID,
		ReconnectWait: cfg.Queue.ReconnectDelay,
	})
	if err != nil {
		logger.Log.Warn("Failed to connect notification publisher, in-app publishing disabled", zap.Error(err))
		return nil
	}

	prefix := cfg.Notify.SubjectPrefix
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = client.SetupStream(ctx, &nats.StreamConfig{
		Name:      strings.ToUpper(strings.ReplaceAll(prefix, ".", "_")),
		Subjects:  []string{prefix + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(cfg.Queue.MaxAge) * 24 * time.Hour,
	})
	if err != nil {
		logger.Log.Warn("Failed to set up notification stream", zap.String("prefix", prefix), zap.Error(err))
	}
	return client
}

// initSenders builds the email and broadcast senders. Without explicit email
// URLs, email goes to the user service.
func initSenders(cfg *config.Config) (notifier.Sender, notifier.Sender) {
	emailURLs := cfg.Notify.URLs
	if len(emailURLs) == 0 && cfg.Services.UserServiceURL != "" {
		emailURLs = []string{"generic+" + strings.TrimRight(cfg.Services.UserServiceURL, "/") + emailEndpointPath}
	}

	email, err := notifier.New(emailURLs, cfg.Notify.Timeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize email sender", zap.Error(err))
	}
	broadcast, err := notifier.New(cfg.Notify.BroadcastURLs, cfg.Notify.Timeout)
	if err != nil {
		logger.Log.Fatal("Failed to initialize broadcast sender", zap.Error(err))
	}
	return email, broadcast
}
