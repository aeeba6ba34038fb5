package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"findsafe-server/internal/config"
	"findsafe-server/internal/events"
	"findsafe-server/internal/handler"
	"findsafe-server/internal/logging"
	"findsafe-server/internal/middleware"
	"findsafe-server/internal/notification"
	"findsafe-server/internal/repository"
	"findsafe-server/internal/service"
	"findsafe-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped gracefully")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := kivik.New("couch", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to CouchDB: %w", err)
	}
	defer client.Close()

	if err := repository.EnsureDatabase(ctx, client, cfg.Database.Name); err != nil {
		return err
	}
	logger.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.Name).Msg("connected to CouchDB")

	deviceRepo := repository.NewDeviceRepository(client, cfg.Database.Name)
	locationRepo := repository.NewLocationRepository(client, cfg.Database.Name)
	geofenceRepo := repository.NewGeofenceRepository(client, cfg.Database.Name)
	historyRepo := repository.NewGeofenceHistoryRepository(client, cfg.Database.Name)
	pendingRepo := repository.NewPendingCommandRepository(client, cfg.Database.Name)
	settingsRepo := repository.NewNotificationSettingsRepository(client, cfg.Database.Name)

	registry := websocket.NewRegistry(websocket.Options{
		WriteWait:         cfg.WebSocket.WriteWait,
		PongWait:          cfg.WebSocket.PongWait,
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
	}, logger)
	defer registry.Close()

	membership := service.NewInMemoryMembershipStore()
	dispatcher := service.NewCommandDispatcher(registry, pendingRepo, logger)
	evaluator := service.NewGeofenceEvaluator(geofenceRepo, membership, logger)
	settingsService := service.NewNotificationSettingsService(settingsRepo)

	var notifier service.GeofenceNotifier
	if cfg.Push.GatewayURL != "" {
		notifier = notification.NewPushNotifier(settingsService, notification.Config{
			GatewayURL: cfg.Push.GatewayURL,
			APIKey:     cfg.Push.APIKey,
			Timeout:    cfg.Push.Timeout,
			MaxRetries: uint64(cfg.Push.MaxRetries),
		}, logger)
	} else {
		logger.Warn().Msg("PUSH_GATEWAY_URL not set, geofence push notifications disabled")
	}

	var publisher interface {
		service.EventPublisher
		Close() error
	} = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing geofence events to Kafka")
	}
	defer publisher.Close()

	relay := service.NewGeofenceRelay(historyRepo, notifier, publisher, dispatcher, service.RelayConfig{
		Timeout:     cfg.Geofence.NotifyTimeout,
		Concurrency: cfg.Geofence.NotifyConcurrency,
	}, logger)

	deviceService := service.NewDeviceService(deviceRepo, geofenceRepo, dispatcher, registry, membership, logger)
	locationService := service.NewLocationService(deviceRepo, locationRepo, evaluator, relay, dispatcher, logger)
	geofenceService := service.NewGeofenceService(geofenceRepo, deviceRepo, historyRepo, evaluator, membership)

	deviceHandler := handler.NewDeviceHandler(deviceService, logger)
	locationHandler := handler.NewLocationHandler(locationService, logger)
	geofenceHandler := handler.NewGeofenceHandler(geofenceService, logger)
	notificationHandler := handler.NewNotificationHandler(settingsService, logger)
	wsHandler := handler.NewWebSocketHandler(
		registry,
		handler.NewDeviceMessageHandler(dispatcher, logger),
		cfg.WebSocket.ReadBufferSize,
		cfg.WebSocket.WriteBufferSize,
		logger,
	)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Device-facing routes identify the device by id only.
	deviceAPI := api.PathPrefix("").Subrouter()
	if cfg.RateLimit.Enabled {
		deviceAPI.Use(middleware.RateLimitByIP(cfg.RateLimit.DeviceRequestsPerMinute, time.Minute))
	}
	deviceAPI.HandleFunc("/devices/{deviceId}/locations", locationHandler.Register).Methods("POST", "OPTIONS")
	deviceAPI.HandleFunc("/locations", locationHandler.UpdateCurrent).Methods("POST", "OPTIONS")
	deviceAPI.HandleFunc("/devices/{deviceId}/mode", deviceHandler.GetMode).Methods("GET", "OPTIONS")
	deviceAPI.HandleFunc("/devices/{deviceId}/activation", deviceHandler.Activate).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	if cfg.RateLimit.Enabled {
		protected.Use(middleware.RateLimitByUser(cfg.RateLimit.RequestsPerMinute, time.Minute))
	}

	protected.HandleFunc("/devices", deviceHandler.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/connected", deviceHandler.Connected).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}", deviceHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}", deviceHandler.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}/mode", deviceHandler.UpdateMode).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}/alarm", deviceHandler.TriggerAlarm).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}/locations", locationHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}/geofences", geofenceHandler.ListByDevice).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/{deviceId}/geofences/history", geofenceHandler.DeviceHistory).Methods("GET", "OPTIONS")

	protected.HandleFunc("/geofences", geofenceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/geofences", geofenceHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/geofences/bulk", geofenceHandler.BulkCreate).Methods("POST", "OPTIONS")
	protected.HandleFunc("/geofences/check", geofenceHandler.Check).Methods("POST", "OPTIONS")
	protected.HandleFunc("/geofences/history", geofenceHandler.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/geofences/{geofenceId}", geofenceHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/geofences/{geofenceId}", geofenceHandler.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/geofences/{geofenceId}", geofenceHandler.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/geofences/{geofenceId}/toggle", geofenceHandler.Toggle).Methods("PATCH", "OPTIONS")

	protected.HandleFunc("/notifications/settings", notificationHandler.GetSettings).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notifications/settings", notificationHandler.UpdateSettings).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notifications/tokens", notificationHandler.RegisterToken).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notifications/tokens", notificationHandler.UnregisterToken).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/ws/{deviceId}", wsHandler.HandleConnection)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", healthHandler(registry)).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("starting FindSafe server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func healthHandler(registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"findsafe-server","connected_devices":%d}`, registry.Count())
	}
}
