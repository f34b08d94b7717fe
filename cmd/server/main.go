package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andyleap/mcpauth/internal/api"
	"github.com/andyleap/mcpauth/internal/oauth"
	"github.com/andyleap/mcpauth/internal/provider"
	"github.com/andyleap/mcpauth/internal/registry"
	"github.com/andyleap/mcpauth/internal/token"
	"github.com/andyleap/mcpauth/internal/ui"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	opts := cfg.Options()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tokens, err := token.NewService(token.Options{
		Secret:                opts.JWTSecret,
		Issuer:                opts.Issuer,
		AccessTokenExpiresIn:  opts.AccessTokenExpiresIn,
		RefreshTokenExpiresIn: opts.RefreshTokenExpiresIn,
		UserTokenExpiresIn:    opts.CookieMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// Setup storage
	store, err := buildStorage(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	clients := registry.NewService(store, logger)
	if cfg.StaticClients != "" {
		static, err := registry.LoadStaticClients(cfg.StaticClients)
		if err != nil {
			return err
		}
		registered, err := clients.RegisterStatic(startupCtx, static)
		if err != nil {
			return fmt.Errorf("failed to register static clients: %w", err)
		}
		for _, c := range registered {
			logger.Info("Static client ready", "client_id", c.ClientID, "client_name", c.ClientName)
		}
	}

	adapter, err := provider.New(startupCtx, provider.Config{
		Type:         cfg.Provider.Type,
		Name:         cfg.Provider.Name,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		RedirectURL:  opts.CallbackURL(),
		Scopes:       cfg.Provider.Scopes,
		Tenant:       cfg.Provider.Tenant,
		Issuer:       cfg.Provider.Issuer,
		AuthURL:      cfg.Provider.AuthURL,
		TokenURL:     cfg.Provider.TokenURL,
		UserInfoURL:  cfg.Provider.UserInfoURL,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}

	// Setup services
	metrics := api.NewMetrics()
	flow := oauth.NewService(opts, clients, store, tokens, adapter,
		oauth.WithLogger(logger),
		oauth.WithTransitionHook(metrics.FlowHook()))

	pages, err := ui.NewOAuthUIHandlers(tokens, opts.Issuer, adapter.Name(), logger)
	if err != nil {
		return fmt.Errorf("failed to create UI handlers: %w", err)
	}

	apiServer := api.NewServer(opts, flow, clients, pages, metrics, logger)

	// Apply middleware
	handler := api.LoggingMiddleware(logger,
		api.MetricsMiddleware(metrics,
			api.CORSMiddleware(cfg.CORSOrigins, apiServer.Routes())))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP authorization server starting",
			"addr", cfg.Listen,
			"issuer", opts.Issuer,
			"provider", adapter.Name(),
			"storage", opts.StorageType,
			"metadata", opts.Issuer+"/.well-known/oauth-authorization-server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}
