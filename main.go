package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esp32watch/api"
	"esp32watch/config"
	"esp32watch/log"
	"esp32watch/services"
	"esp32watch/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	logger := log.GetInstance()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	dashboardLoc, err := time.LoadLocation(cfg.DashboardTimezone)
	if err != nil {
		logger.Fatal("Failed to load dashboard timezone", zap.String("timezone", cfg.DashboardTimezone), zap.Error(err))
	}
	displayLoc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		logger.Warn("Unknown display timezone, using UTC", zap.String("timezone", cfg.DisplayTimezone))
		displayLoc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	detectionStore := store.NewDetectionStore(db)
	emailStore := store.NewEmailStore(db)

	heartbeats, closeHeartbeats := newHeartbeatStore(ctx, cfg, logger)
	defer closeHeartbeats()
	liveness := services.NewLivenessService(heartbeats, cfg.HeartbeatTimeout, logger)

	notifier := services.NewMultiNotifier(logger)
	handler := &api.Handler{
		Liveness: liveness,
		Emails:   services.NewEmailListService(emailStore, logger),
		DB:       db,
		Logger:   logger,
		Env: api.Environment{
			HasDatabaseURL:  cfg.DatabaseURL != "",
			HasSMTPUser:     cfg.SMTPUser != "",
			HasSMTPPassword: cfg.SMTPPassword != "",
			DBDriver:        cfg.DBDriver,
			HeartbeatStore:  cfg.HeartbeatStore,
			MQTT:            cfg.MQTTBroker != "",
			RabbitMQ:        cfg.RabbitMQURL != "",
		},
	}

	if cfg.SMTPEnabled() {
		client, err := services.NewSMTPClient(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize SMTP client", zap.Error(err))
		}
		mailer := services.NewEmailNotifier(client, cfg.SMTPFrom, emailStore, displayLoc, logger)
		notifier.Add("email", mailer)
		handler.Mailer = mailer
	} else {
		logger.Warn("SMTP credentials missing, alert email disabled")
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram, err := services.NewTelegramService(cfg, displayLoc, logger)
		if err != nil {
			logger.Error("Failed to initialize Telegram service", zap.Error(err))
		} else {
			notifier.Add("telegram", telegram)
			if err := telegram.SendStartupMessage(cfg.HeartbeatTimeout); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}

	if cfg.AlertWebhookURL != "" {
		notifier.Add("webhook", services.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.NotifyTimeout, logger))
		logger.Info("Alert webhook initialized", zap.String("url", cfg.AlertWebhookURL))
	}

	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		firebase, err := services.NewFirebaseService(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize Firebase service", zap.Error(err))
		} else {
			defer firebase.Close()
			notifier.Add("firebase", firebase)
		}
	}

	var rabbit *services.RabbitMQService
	if cfg.RabbitMQURL != "" {
		rabbit, err = services.NewRabbitMQService(cfg, nil, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		defer rabbit.Close()
		notifier.Add("rabbitmq", rabbit)
	}

	detections := services.NewDetectionService(detectionStore, notifier, cfg.NotifyTimeout, logger)
	handler.Detections = detections

	if rabbit != nil {
		rabbit.SetRecorder(detections)
		go func() {
			if err := rabbit.Consume(ctx); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
	}

	var publisher services.Publisher
	if cfg.MQTTBroker != "" {
		mqttService, err := services.NewMQTTService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize MQTT service", zap.Error(err))
		}
		defer mqttService.Close()
		if err := mqttService.SubscribeHeartbeats(liveness); err != nil {
			logger.Fatal("Failed to subscribe to heartbeats", zap.Error(err))
		}
		publisher = mqttService
	}
	handler.Configurator = services.NewDeviceConfigurator(publisher, cfg.MQTTConfigTopic, logger)

	handler.Dashboard = services.NewDashboardService(detectionStore, emailStore, db, liveness, services.DashboardOptions{
		DeviceIDs:    cfg.DashboardDevices,
		EmailEnabled: cfg.SMTPEnabled(),
		Location:     dashboardLoc,
	}, logger)
	handler.Exporter = services.NewDetectionExporter(detectionStore, displayLoc, logger)
	if len(cfg.DashboardDevices) > 0 {
		handler.DefaultDeviceID = cfg.DashboardDevices[0]
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown timed out", zap.Error(err))
		}
	}()

	logger.Info("ESP32 detection dashboard started",
		zap.String("port", cfg.HTTPPort),
		zap.String("db_driver", cfg.DBDriver),
		zap.Duration("heartbeat_timeout", cfg.HeartbeatTimeout),
		zap.String("heartbeat_store", cfg.HeartbeatStore),
		zap.String("dashboard_timezone", cfg.DashboardTimezone),
		zap.Int("notification_channels", notifier.Len()))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("ESP32 detection dashboard stopped")
}

// newHeartbeatStore selects the process-local or the Redis-backed heartbeat store
func newHeartbeatStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.HeartbeatStore, func()) {
	if cfg.HeartbeatStore != "redis" {
		return services.NewMemoryHeartbeatStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	logger.Info("Using Redis heartbeat store", zap.String("addr", cfg.RedisAddr))
	return services.NewRedisHeartbeatStore(client, cfg.RedisKeyPrefix, logger), func() { _ = client.Close() }
}
