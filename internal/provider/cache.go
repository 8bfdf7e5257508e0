package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/observability"
)

const cacheName = "place_details"

// CachedProvider serves Details from Redis before asking the wrapped
// provider. Searches always go upstream. Cache failures are logged and
// never fail a lookup.
type CachedProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps next with a details cache.
func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	return &CachedProvider{next: next, client: client, ttl: ttl, prefix: "places:details:", logger: logger}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (c *CachedProvider) SearchNearby(ctx context.Context, query string, near entity.GeoPoint, radiusMeters float64) ([]SearchResult, error) {
	return c.next.SearchNearby(ctx, query, near, radiusMeters)
}

func (c *CachedProvider) Details(ctx context.Context, placeID string) (*Details, error) {
	key := c.prefix + placeID
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached Details
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			observability.ObserveCache(cacheName, "hit")
			return &cached, nil
		}
		c.logger.Warn().Str("place_id", placeID).Msg("discarding undecodable cached details")
	case errors.Is(err, redis.Nil):
		observability.ObserveCache(cacheName, "miss")
	default:
		c.logger.Warn().Err(err).Str("place_id", placeID).Msg("details cache read failed")
	}

	details, err := c.next.Details(ctx, placeID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(details)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("place_id", placeID).Msg("details cache write failed")
	} else {
		observability.ObserveCache(cacheName, "set")
	}
	return details, nil
}
