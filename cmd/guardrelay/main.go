package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-command"
	guardrelay "github.com/goliatone/go-guardrelay"
	"github.com/goliatone/go-guardrelay/adapters/gocommand"
	"github.com/goliatone/go-guardrelay/adapters/gologger"
	"github.com/goliatone/go-guardrelay/adapters/otelmetrics"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/identity"
	"github.com/goliatone/go-guardrelay/query"
	sqlstore "github.com/goliatone/go-guardrelay/store/sql"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := guardrelay.LoadConfig(ctx, core.Config{})
	if err != nil {
		gologger.NewJSONRoot(os.Stderr, "guardrelay", "info").Error("config_load_failed", "error", err.Error())
		return err
	}

	provider := gologger.NewJSONRoot(os.Stdout, cfg.ServiceName, cfg.LogLevel)
	log := provider.GetLogger("main")
	metrics := otelmetrics.NewRecorder(otel.Meter(cfg.ServiceName), provider.GetLogger("metrics"))

	client, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("database_open_failed", "driver", cfg.Database.Driver, "error", err.Error())
		return err
	}
	defer func() { _ = client.Close() }()
	store, err := sqlstore.NewMessageStoreFromPersistence(client)
	if err != nil {
		log.Error("message_store_failed", "error", err.Error())
		return err
	}

	validator, err := tokenValidator(cfg.Auth)
	if err != nil {
		log.Error("token_validator_failed", "error", err.Error())
		return err
	}

	relay, err := guardrelay.New(cfg,
		guardrelay.WithLoggerProvider(provider),
		guardrelay.WithMetrics(metrics),
		guardrelay.WithTokenValidator(validator),
		guardrelay.WithMessageHandler(store),
	)
	if err != nil {
		log.Error("relay_init_failed", "error", err.Error())
		return err
	}

	bus := gocommand.NewRegistryAdapter(command.NewRegistry())
	subs, err := gocommand.RegisterRelayCommands(bus, relay.Commands())
	if err != nil {
		log.Error("command_bus_failed", "error", err.Error())
		return err
	}
	defer subs.Unsubscribe()
	if err := bus.Initialize(); err != nil {
		log.Error("command_bus_failed", "error", err.Error())
		return err
	}

	relay.Start(ctx)
	mux := http.NewServeMux()
	mux.Handle("/admin/", query.NewHTTPHandler("/admin", store, relay.Registry()))
	mux.Handle("/", relay.Handler())
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http_listen", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("http_server_error", "error", err.Error())
			return err
		}
	}

	log.Info("shutdown_start")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	// Stop accepting new requests before closing hijacked websocket connections.
	_ = srv.Shutdown(shutdownCtx)
	if err := relay.Shutdown(shutdownCtx); err != nil {
		log.Warn("relay_shutdown_incomplete", "error", err.Error())
	}
	log.Info("shutdown_done")
	return nil
}

func tokenValidator(cfg core.AuthConfig) (core.TokenValidator, error) {
	jwtValidator, err := identity.NewJWTValidator(identity.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	})
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		return jwtValidator, nil
	}
	cache, err := identity.NewTokenCache(cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	return identity.NewCachedValidator(jwtValidator, cache)
}
