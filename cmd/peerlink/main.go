package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/services"
	httphandlers "peerlink/internal/handlers/http"
	"peerlink/internal/infrastructure/distributed"
	"peerlink/internal/infrastructure/media"
	"peerlink/internal/infrastructure/middleware"
	"peerlink/internal/infrastructure/monitoring"
	signalserver "peerlink/internal/infrastructure/signal"
	webrtcinfra "peerlink/internal/infrastructure/webrtc"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPaths := []string{
		os.Getenv("PEERLINK_CONFIG"),
		"configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("using default configuration", "error", err)
	}

	instanceID := uuid.NewString()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "peerlink",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	bus := services.NewEventBus(log.Named("events"))
	bus.SetQueueWarnSize(cfg.Events.QueueWarnSize)

	// Media and transports
	capturer := media.NewRTPCapturer(media.Config{
		Sources: map[domain.StreamKind]media.Source{
			domain.StreamKindCameraMic: {
				AudioAddr: cfg.Media.CameraMic.AudioAddr,
				VideoAddr: cfg.Media.CameraMic.VideoAddr,
			},
			domain.StreamKindScreenShare: {
				AudioAddr: cfg.Media.ScreenShare.AudioAddr,
				VideoAddr: cfg.Media.ScreenShare.VideoAddr,
			},
		},
		AudioMimeType: cfg.Media.AudioMimeType,
		VideoMimeType: cfg.Media.VideoMimeType,
		MTU:           cfg.Media.MTU,
	}, log.Named("media"))

	factoryCfg := webrtcinfra.Config{NAT1To1IPs: cfg.WebRTC.NAT1To1IPs, StatsInterval: cfg.Monitoring.StatsInterval}
	factoryCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	factoryCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	factory, err := webrtcinfra.NewFactory(factoryCfg, log.Named("webrtc"))
	if err != nil {
		log.Fatalw("failed to create transport factory", "error", err)
	}

	// Services
	mediaService := services.NewMediaService(capturer, bus, log.Named("media"))
	connectionService := services.NewConnectionService(
		connectionConfig(cfg),
		factory,
		mediaService,
		bus,
		log.Named("connections"),
		services.ConnectionOptions{
			DefaultStreamID:     domain.StreamID(cfg.Media.DefaultStreamID),
			DisconnectedTimeout: cfg.Tracker.DisconnectedTimeout,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Monitoring
	checker := monitoring.NewHealthChecker()
	checker.AddCheck("connections", func(ctx context.Context) (bool, error) {
		connectionService.Connections()
		return true, nil
	}, time.Second)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := monitoring.NewPrometheusCollector(reg, connectionService, log.Named("metrics"))
		defer collector.Subscribe(bus)()
		go collector.Run(ctx, cfg.Monitoring.StatsInterval)
		gatherer = reg
		log.Info("Prometheus metrics enabled")
	}

	// Redis audit relay
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log.Named("redis"))
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		checker.AddRedisCheck(redisClient, 2*time.Second)

		relay := distributed.NewEventRelay(redisClient, cfg.Redis.Channel, instanceID, cfg.Redis.PublishRetry, log.Named("relay")).
			WithBreaker(circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold: cfg.Redis.BreakerThreshold,
				OpenTimeout:      cfg.Redis.BreakerCooldown,
			}))
		defer relay.Start(bus)()
	}

	// HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	events := httphandlers.NewEventsHandler(bus, log.Named("sse"))
	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)
	httphandlers.NewConnectionHandler(connectionService).SetupRoutes(router)
	httphandlers.NewStreamHandler(mediaService).SetupRoutes(router)
	events.SetupRoutes(router)

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Server-sent events keep the response open, so no write timeout.
	}

	// Signaling
	wsServer := signalserver.NewWebSocketServer(connectionService, bus, signalserver.Options{
		AllowedOrigins:    cfg.Signal.AllowedOrigins,
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		Burst:             cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}, log.Named("signal"))

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting peerlink API server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting peerlink signaling server on %s", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down peerlink...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	signalCtx, signalCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer signalCancel()

	wsServer.Shutdown()
	if err := signalSrv.Shutdown(signalCtx); err != nil {
		log.Errorw("Error during signaling shutdown", "error", err)
		signalSrv.Close()
	}

	events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		srv.Close()
	}

	connectionService.Shutdown(shutdownCtx)
	mediaService.ReleaseAll()
	cancel()
	bus.Close()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing Redis client", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("peerlink stopped")
}

func connectionConfig(cfg *config.Config) domain.ConnectionConfig {
	servers := make([]domain.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, domain.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return domain.ConnectionConfig{ICEServers: servers}
}
