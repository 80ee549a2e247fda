package main

import (
	"context"
	"fmt"
	"strings"

	"nexacore/realtime/internal/broadcast"
	"nexacore/realtime/internal/handlers"
	"nexacore/realtime/internal/history"
	"nexacore/realtime/internal/maintenance"
	"nexacore/realtime/internal/metrics"
	"nexacore/realtime/internal/registry"
	"nexacore/realtime/internal/sequence"
	"nexacore/realtime/internal/versiongate"
	ws "nexacore/realtime/internal/websocket"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/config"
	"nexacore/realtime/pkg/kafka"
	"nexacore/realtime/pkg/logging"
	"nexacore/realtime/pkg/middleware"
	"nexacore/realtime/pkg/monitoring"
	"nexacore/realtime/pkg/server"
	"nexacore/realtime/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("semaphore")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Semaphore (realtime event hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("semaphore", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("semaphore", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		ActiveSessions:  metricsCollector.NewGauge("websocket_sessions_active", "Active WebSocket sessions", []string{"tenant_id"}),
		DeliveryLag:     metricsCollector.NewHistogram("event_delivery_lag_seconds", "Event delivery latency", []string{"channel"}, nil),
		EventsPublished: metricsCollector.NewCounter("events_published_total", "Events published", []string{"channel", "action"}),
		EventsDelivered: metricsCollector.NewCounter("events_delivered_total", "Events delivered to session queues", []string{"channel"}),
		SlowConsumers:   metricsCollector.NewCounter("slow_consumer_disconnects_total", "Sessions evicted for full outbound queues", []string{"tenant_id"}),
		ReplayRequests:  metricsCollector.NewCounter("replay_requests_total", "Resume requests by outcome", []string{"result"}),
	}
	serviceMetrics.KafkaMessages, serviceMetrics.KafkaDuration, serviceMetrics.KafkaLag = metricsCollector.CreateKafkaMetrics()

	// Core configuration
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	minimumVersion := config.GetEnv("MINIMUM_SUPPORTED_VERSION", "0.0.0")
	downloadURL := config.GetEnv("CLIENT_DOWNLOAD_URL", "")
	heartbeatInterval := config.GetEnvDuration("HEARTBEAT_INTERVAL", ws.HeartbeatInterval)
	queueSize := config.GetEnvInt("SESSION_QUEUE_SIZE", ws.DefaultQueueSize)
	historySize := config.GetEnvInt("REPLAY_HISTORY_SIZE", history.DefaultCapacity)

	// Wire the distribution core. Heartbeat timeout is 3x the expected
	// heartbeat interval.
	reg := registry.NewRegistry(logger, 3*heartbeatInterval)
	sequencer := sequence.NewSequencer()
	replayStore := history.NewStore(historySize)
	broadcaster := broadcast.NewBroadcaster(sequencer, replayStore, reg, logger, serviceMetrics)
	gate := maintenance.NewGate(broadcaster, logger)

	versions, err := versiongate.NewGate(minimumVersion, downloadURL, broadcaster, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid version policy")
	}

	authenticator := auth.NewAuthenticator(auth.NewJWTVerifier([]byte(jwtSecret)), logger)
	hub := ws.NewHub(authenticator, versions, reg, broadcaster, logger, serviceMetrics, queueSize)
	serviceHandlers := handlers.NewHandlers(hub, gate, versions, broadcaster, reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Heartbeat sweep runs on a fixed interval independent of any connection
	go reg.RunSweeper(ctx, heartbeatInterval)

	// Optional Kafka ingest: the write path can publish through the broker
	// instead of (or alongside) the internal HTTP endpoint.
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		groupID := config.GetEnv("KAFKA_GROUP_ID", "semaphore-group")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "semaphore")
		topics := strings.Split(config.GetEnv("KAFKA_TOPICS", "domain_events"), ",")

		consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger, serviceHandlers)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
		}
		defer consumer.Close()

		if err := consumer.Subscribe(topics); err != nil {
			logger.WithError(err).Fatal("Failed to subscribe to topics")
		}

		healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))

		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("Kafka consumer error")
			}
		}()
	}

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"JWT_SECRET":    jwtSecret,
		"SERVICE_TOKEN": serviceToken,
	}))
	healthChecker.AddCheck("hub", func() monitoring.CheckResult {
		return monitoring.CheckResult{
			Status:  monitoring.StatusHealthy,
			Message: fmt.Sprintf("%d active sessions", reg.Count()),
		}
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "semaphore", healthChecker, metricsCollector)

	// Connection establishment and public status
	router.GET("/ws", serviceHandlers.HandleWebSocket)
	router.GET("/status", serviceHandlers.HandleStatus)

	// Admin routes
	admin := router.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware([]byte(jwtSecret)), middleware.RequireAdmin())
	admin.PUT("/maintenance", serviceHandlers.HandleMaintenanceToggle)
	admin.PUT("/version-policy", serviceHandlers.HandleVersionPolicyUpdate)
	admin.GET("/tenants/:tenant_id/sessions", serviceHandlers.HandleListSessions)
	admin.DELETE("/tenants/:tenant_id/sessions/:connection_id", serviceHandlers.HandleKickSession)

	// Internal ingest with service auth
	internal := router.Group("/internal")
	internal.Use(middleware.ServiceAuthMiddleware(serviceToken))
	internal.POST("/events", serviceHandlers.HandlePublishEvent)

	router.NoRoute(serviceHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("semaphore", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
