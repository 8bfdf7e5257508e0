package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/octobees/venue-pipeline/internal/config"
	"github.com/octobees/venue-pipeline/internal/handler"
	middlewarepkg "github.com/octobees/venue-pipeline/internal/middleware"
)

// Handlers aggregates HTTP handlers used by the router.
type Handlers struct {
	Places  *handler.PlacesHandler
	Metrics http.Handler
}

// Register wires all HTTP routes for the API.
func Register(e *echo.Echo, cfg *config.Config, handlers Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return handler.Success(c, http.StatusOK, "service healthy", map[string]any{"status": "ok"})
	})
	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}

	places := e.Group("/places", middlewarepkg.RateLimiter(cfg.RateLimitPipeline, "/places"))
	places.POST("/normalize", handlers.Places.Normalize)
	places.POST("/validate", handlers.Places.Validate)
	places.POST("/dedupe", handlers.Places.Dedupe)
	places.POST("/enrich", handlers.Places.Enrich)
	places.POST("/sync", handlers.Places.Sync)
	places.POST("/import", handlers.Places.Import)
	places.POST("/run", handlers.Places.Run)
	places.POST("/scrape", handlers.Places.Scrape)
}
