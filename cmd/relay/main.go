package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/registry"
	"github.com/HMasataka/relay/pkg/relay"
	"github.com/HMasataka/relay/pkg/transport/websocket"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewInMemoryBus(cfg.Relay.EventBusBuffer)
	bus.SubscribeAll(auditLogger(logger))
	bus.Start(ctx)
	defer bus.Stop()

	reg := registry.New()
	hub := relay.NewHub(reg, relay.HubOptions{
		Logger:    logger.WithFields(map[string]any{"component": "hub"}),
		QueueSize: cfg.Relay.BroadcastQueue,
	})
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("hub failed to start: %w", err)
	}
	defer hub.Stop()

	ws := websocket.NewServer(
		websocket.WithRegistry(reg),
		websocket.WithHub(hub),
		websocket.WithLogger(logger.WithFields(map[string]any{"component": "websocket"})),
		websocket.WithEventBus(bus),
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		websocket.WithClientOptions(clientOptions(cfg.Transport)),
	)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(cfg, ws, hub),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting chat relay", "address", server.Addr, "chat_path", cfg.Server.ChatPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("relay stopped", "stats", hub.Stats())
	return nil
}

func clientOptions(cfg config.TransportConfig) websocket.ClientOptions {
	return websocket.ClientOptions{
		WriteTimeout:   cfg.WriteTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		PingInterval:   cfg.PingInterval,
		CloseGrace:     cfg.CloseGrace,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}
}

// auditLogger records presence changes and dropped events
func auditLogger(logger *logging.Logger) eventbus.Handler {
	audit := logger.WithFields(map[string]any{"component": "audit"})
	return func(event *eventbus.Event) {
		audit.Info("relay event",
			"event_id", event.ID,
			"event_type", event.Type,
			"data", event.Data,
		)
	}
}
