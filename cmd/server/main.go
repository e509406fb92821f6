// Command server runs the haiku HTTP API.
//
// @title                     Haiku API
// @version                   1.0
// @description               One haiku per day: list, fetch by day id, and write today's haiku (basic auth).
// @BasePath                  /
// @securityDefinitions.basic BasicAuth
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-haiku-backend/internal/config"
	"github.com/tbourn/go-haiku-backend/internal/conncache"
	httpapi "github.com/tbourn/go-haiku-backend/internal/http"
	"github.com/tbourn/go-haiku-backend/internal/observability"
	"github.com/tbourn/go-haiku-backend/internal/repo"
	"github.com/tbourn/go-haiku-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; the environment may be set by the runtime.
	_ = godotenv.Load()

	cfg, err := config.Load()
	sysutil.ConfigureLogger(os.Stderr, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr()).Msg("listen failed")
	}
	if err := run(ctx, cfg, ln); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

// run serves the API on ln until ctx is canceled, then drains in-flight
// requests for at most config.ShutdownGrace and releases every open store
// handle.
func run(ctx context.Context, cfg config.Config, ln net.Listener) error {
	otelShutdown, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	conns := conncache.New(repo.OpenAndMigrate)
	defer func() {
		if err := conns.Close(); err != nil {
			log.Warn().Err(err).Msg("closing store connections")
		}
	}()

	handler, err := httpapi.NewHandler(conns, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("version", version).Msg("haiku api listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Dur("grace", config.ShutdownGrace).Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown incomplete")
		_ = srv.Close()
	}
	log.Info().Msg("server stopped")
	return nil
}
