package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"railguard/config"
	"railguard/log"
	"railguard/services"
	"railguard/storage"
)

func main() {
	// Initialize timezone to Asia/Colombo
	loc, err := time.LoadLocation("Asia/Colombo")
	if err != nil {
		panic("Failed to load Asia/Colombo timezone: " + err.Error())
	}
	time.Local = loc

	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Open local store
	store, err := storage.New(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer store.Close()

	// Initialize services
	device := services.NewDeviceClient(cfg, logger)

	pillarService := services.NewPillarService(logger, device, store)
	if err := pillarService.Init(context.Background()); err != nil {
		logger.Warn("Failed to restore device address", zap.Error(err))
	}
	waypointService := services.NewWaypointService(logger, device, store, pillarService)

	provider, err := services.NewMQTTProvider(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to sensor unit", zap.Error(err))
	}
	defer provider.Close()

	var remote *services.FirestoreService
	if cfg.FirebaseProjectID != "" && cfg.FirebaseServiceAccountJSON != "" {
		remote, err = services.NewFirestoreService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firestore service", zap.Error(err))
		}
		defer remote.Close()
	} else {
		logger.Warn("Firestore not configured, alerts will stay queued locally")
	}

	var notifier services.FirstAlertNotifier
	var telegram *services.TelegramService
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		notifier = telegram
	}

	var publisher services.DetectionPublisher
	var rabbit *services.RabbitMQService
	if cfg.RabbitMQURL != "" {
		rabbit, err = services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		publisher = rabbit
	}

	var remoteStore services.RemoteAlertStore
	var remotePinger services.Pinger
	if remote != nil {
		remoteStore = remote
		remotePinger = remote
	}

	syncService := services.NewSyncService(logger, store, remoteStore)
	alertService := services.NewAlertService(logger, store, syncService, notifier)
	calibration := services.NewCalibrationService(cfg, logger, provider, provider, pillarService, device, store)
	poller := services.NewPositionPoller(cfg, logger, provider, device, calibration, alertService, publisher)
	monitor := services.NewConnectivityMonitor(cfg, logger, device, remotePinger, syncService)
	control := services.NewControlService(cfg, logger, calibration, alertService, syncService, pillarService, waypointService)

	// Warm the offline caches
	if _, err := pillarService.Fetch(context.Background()); err != nil {
		logger.Warn("Initial pillar fetch failed", zap.Error(err))
	}
	if _, err := waypointService.Fetch(context.Background()); err != nil {
		logger.Warn("Initial waypoint fetch failed", zap.Error(err))
	}

	// Send startup notification
	if telegram != nil {
		if err := telegram.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("RailGuard agent started",
		zap.String("vehicle_id", cfg.VehicleID),
		zap.String("device_addr", pillarService.DeviceAddr()),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal when cleanup is complete
	cleanupDone := make(chan bool, 1)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")

		// Cancel context to stop all goroutines
		cancel()

		// Wait for cleanup to complete or timeout
		select {
		case <-cleanupDone:
			logger.Info("Cleanup completed successfully")
		case <-time.After(5 * time.Second):
			logger.Warn("Cleanup timeout, forcing exit")
		}

		logger.Info("RailGuard agent stopped")
		os.Exit(0)
	}()

	// Drain anything stranded from the previous run
	syncService.Kick()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return poller.Run(groupCtx) })
	group.Go(func() error { return monitor.Run(groupCtx) })
	group.Go(func() error { return control.Listen(groupCtx, provider.Client()) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service loop exited", zap.Error(err))
	}

	// Perform cleanup
	logger.Info("Starting cleanup")

	calibration.Stop()

	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			logger.Error("Error closing RabbitMQ service", zap.Error(err))
		}
	}
	if remote != nil {
		if err := remote.Close(); err != nil {
			logger.Error("Error closing Firestore service", zap.Error(err))
		}
	}

	// Signal cleanup completion
	cleanupDone <- true
}
