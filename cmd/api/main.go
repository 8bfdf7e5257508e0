package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/octobees/venue-pipeline/internal/app"
	"github.com/octobees/venue-pipeline/internal/config"
	"github.com/octobees/venue-pipeline/internal/handler"
	middlewarepkg "github.com/octobees/venue-pipeline/internal/middleware"
	"github.com/octobees/venue-pipeline/internal/observability"
	"github.com/octobees/venue-pipeline/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("").Fatal().Err(err).Msg("failed to load config")
	}
	logger := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	comps, err := app.Build(bootCtx, cfg, logger, app.Needs{}, app.Options{BestEffort: true})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	defer comps.Close()

	reg := observability.InitRegistry()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middlewarepkg.RequestID())
	e.Use(middlewarepkg.Logging(logger))
	e.Use(echoMiddleware.Recover())

	router.Register(e, cfg, router.Handlers{
		Places:  handler.NewPlacesHandler(comps.Service, comps.Sources),
		Metrics: observability.MetricsHandler(reg),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}
