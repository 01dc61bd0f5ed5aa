package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"inkrelay/internal/http/handlers"
	httpapi "inkrelay/internal/http/httpapi"
	"inkrelay/internal/infra"
	"inkrelay/internal/provider"
	"inkrelay/internal/relay"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	endpoints, err := provider.ResolveEndpoints(cfg.ProviderEnv, cfg.ProviderRESTURL, cfg.ProviderSocketURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid provider endpoints")
	}

	// One provider client for the whole process, built on first use.
	connect := func(ctx context.Context) (relay.Upstream, error) {
		client, err := provider.NewClient(provider.Options{
			Endpoints:      endpoints,
			Username:       cfg.ProviderUsername,
			Password:       cfg.ProviderPassword,
			AppID:          cfg.ProviderAppID,
			Logger:         &logger,
			RequestTimeout: cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		logger.Info().Str("env", cfg.ProviderEnv).Str("rest", endpoints.REST).Msg("provider connected")
		return client, nil
	}

	svc, err := relay.NewService(relay.Options{
		Connect:           connect,
		Logger:            &logger,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ResultRetention:   cfg.ResultRetention,
		ProjectTimeout:    cfg.ProjectTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build relay")
	}

	app := handlers.NewApp(svc, cfg.AppEnv, logger)
	router := httpapi.NewRouter(app, cfg.AllowedOrigins, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("relay listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := svc.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close relay")
	}
	logger.Info().Msg("server stopped")
}
