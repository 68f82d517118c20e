package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bleam/bridge/internal/adapter/botapi"
	"github.com/bleam/bridge/internal/adapter/chatsocket"
	"github.com/bleam/bridge/internal/adapter/directory"
	bridgehttp "github.com/bleam/bridge/internal/adapter/http"
	bridgenats "github.com/bleam/bridge/internal/adapter/nats"
	"github.com/bleam/bridge/internal/adapter/otel"
	"github.com/bleam/bridge/internal/config"
	"github.com/bleam/bridge/internal/logger"
	"github.com/bleam/bridge/internal/port/bus"
	portdir "github.com/bleam/bridge/internal/port/directory"
	"github.com/bleam/bridge/internal/port/platform"
	"github.com/bleam/bridge/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"platform", cfg.Platform.Name,
		"kind", cfg.Platform.Kind,
		"group", cfg.Dispatcher.Group,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownTelemetry, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Bus (failure here is fatal by design) ---
	topics := config.TopicsFor(cfg.Platform.Name)
	busConn, err := bridgenats.Connect(ctx, cfg.Bus.URL, cfg.Bus.Stream, []string{cfg.Platform.Name + ".>"})
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer func() { _ = busConn.Close() }()

	// --- Services ---
	auth := service.NewServiceAuth(cfg.Auth)
	secrets := service.NewWebhookSecrets(cfg.Auth.WebhookSalt)
	registry := service.NewRegistry()
	ingest := service.NewIngestor(busConn, topics.Incoming, metrics)

	var client platform.Client
	switch cfg.Platform.Kind {
	case "socket":
		client = chatsocket.New(cfg.Platform.GatewayURL, cfg.Platform.SessionDir)
	default:
		client = botapi.New(cfg.Platform.APIBaseURL, cfg.Platform.PublicDomain, secrets)
	}

	var dirSource portdir.Source
	if cfg.Directory.URL != "" {
		dirSource = directory.New(cfg.Directory.URL, auth)
	}

	manager := service.NewConnectionManager(client, registry, busConn, ingest, dirSource, metrics,
		service.ManagerOptions{
			StatusTopic:    topics.Status,
			QRTopic:        topics.QR,
			ReconnectDelay: cfg.Platform.ReconnectDelay,
			MaxReconnects:  cfg.Platform.MaxReconnects,
		})

	consumer := fmt.Sprintf("consumer-%d-%s", os.Getpid(), uuid.NewString()[:8])
	dispatcher := service.NewDispatcher(busConn, registry, metrics,
		service.DispatcherOptions{
			Topic:           topics.Outgoing,
			DeadLetterTopic: topics.DeadLetter,
			Group:           cfg.Dispatcher.Group,
			Consumer:        consumer,
			BatchSize:       cfg.Dispatcher.BatchSize,
			PollWait:        cfg.Dispatcher.PollWait,
			MaxDeliveries:   cfg.Dispatcher.MaxDeliveries,
		})

	// --- HTTP ---
	handlers := &bridgehttp.Handlers{
		Manager: manager,
		Ingest:  ingest,
		Secrets: secrets,
	}

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(bridgehttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(busConn, registry))
	bridgehttp.MountRoutes(r, handlers, auth)

	// Bootstrap is best-effort: one tenant's failure, or even a directory
	// outage, must not keep the bridge down.
	if err := manager.Bootstrap(ctx); err != nil {
		slog.Error("bootstrap failed", "error", err)
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports bus connectivity and the active tenant count.
func healthHandler(b bus.Stream, registry *service.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := "ok"
		code := http.StatusOK
		if !b.IsConnected() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"bus":     b.IsConnected(),
			"tenants": registry.Len(),
		})
	}
}
