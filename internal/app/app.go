// Package app wires configuration into a ready PlacesService for the
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/octobees/venue-pipeline/internal/config"
	"github.com/octobees/venue-pipeline/internal/database"
	"github.com/octobees/venue-pipeline/internal/middleware"
	"github.com/octobees/venue-pipeline/internal/provider"
	"github.com/octobees/venue-pipeline/internal/provider/googleplaces"
	"github.com/octobees/venue-pipeline/internal/repository"
	"github.com/octobees/venue-pipeline/internal/scraper"
	"github.com/octobees/venue-pipeline/internal/service"
	"github.com/octobees/venue-pipeline/internal/service/enrich"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
	"github.com/octobees/venue-pipeline/internal/service/upload"
	"github.com/octobees/venue-pipeline/internal/service/validation"
)

// Needs lists the optional collaborators a caller requires. A required
// collaborator that cannot be configured is an error; an optional one is
// left out and the stages using it report it as unavailable.
type Needs struct {
	Store    bool
	Provider bool
}

// Components is the wired application.
type Components struct {
	Service  *service.PlacesService
	Sources  map[string]scraper.Source
	Provider provider.Provider
	closers  []func()
}

// Close releases pools and clients.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Options tweak how the service is built.
type Options struct {
	Normalize []normalize.Option
	// Best-effort connects the store and provider when configured even if
	// they are not required.
	BestEffort bool
}

// Build connects configured collaborators and assembles the service.
// Missing store settings are reported together before any connection is
// attempted.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, needs Needs, opts Options) (*Components, error) {
	comps := &Components{Sources: map[string]scraper.Source{"takeout": scraper.TakeoutSource{RequireCoordinates: true}}}
	deps := service.PlacesDeps{
		Normalizer:  normalize.New(opts.Normalize...),
		Validator:   validation.NewValidator(cfg.PhoneRegion),
		EnrichDelay: cfg.EnrichDelay,
		Logger:      logger,
	}

	if needs.Store || (opts.BestEffort && cfg.Store.Validate() == nil) {
		store, err := connectStore(ctx, cfg.Store)
		if err != nil {
			comps.Close()
			return nil, err
		}
		comps.closers = append(comps.closers, store.close)
		deps.Uploader = upload.New(store.docs, upload.WithLogger(logger))
		deps.Lookup = store.docs
		deps.Documents = store.docs
		logger.Info().Str("project", cfg.Store.ProjectID).Str("dataset", cfg.Store.Dataset).Msg("document store connected")
	}

	if needs.Provider || (opts.BestEffort && cfg.PlacesAPIKey != "") {
		if err := cfg.RequirePlacesKey(); err != nil {
			comps.Close()
			return nil, err
		}
		p, err := newProvider(ctx, cfg, logger, comps)
		if err != nil {
			comps.Close()
			return nil, err
		}
		comps.Provider = p
		comps.Sources["provider"] = scraper.NewProviderSource(p)
		deps.Enricher = enrich.New(p, enrich.WithLogger(logger), enrich.WithPhoneRegion(cfg.PhoneRegion))
	}

	if cfg.WorkerBaseURL != "" {
		client, err := scraper.NewWorkerClient(&http.Client{Timeout: 60 * time.Second}, cfg.WorkerBaseURL)
		if err == nil {
			comps.Sources["worker"] = scraper.NewWorkerSource(client, middleware.RequestIDFromStdContext)
		}
	}

	comps.Service = service.NewPlacesService(deps)
	return comps, nil
}

type storeHandle struct {
	docs  *repository.PGXDocumentStore
	close func()
}

func connectStore(ctx context.Context, cfg config.StoreConfig) (*storeHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL, database.Credentials{Password: cfg.WriteToken})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	return &storeHandle{
		docs:  repository.NewPGXDocumentStore(pool, cfg.ProjectID, cfg.Dataset),
		close: pool.Close,
	}, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger, comps *Components) (provider.Provider, error) {
	client, err := googleplaces.New(ctx, cfg.PlacesAPIKey)
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return client, nil
	}
	rdb, err := provider.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, details cache disabled")
		rdb.Close()
		return client, nil
	}
	comps.closers = append(comps.closers, func() { rdb.Close() })
	return provider.NewCachedProvider(client, rdb, cfg.DetailsCacheTTL, logger), nil
}

// IsConfigError reports whether err is a missing-settings error.
func IsConfigError(err error) bool {
	var missing *config.MissingSettingsError
	return errors.As(err, &missing)
}
