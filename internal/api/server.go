package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/driftwave/driftsync/internal/importer"
	"github.com/driftwave/driftsync/internal/settings"
)

// Server handles HTTP requests for the driftsync API.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(provider *importer.Provider, store *settings.Store, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	}))

	s := &Server{
		echo:   e,
		logger: logger.With().Str("component", "api").Logger(),
	}

	e.GET("/healthz", s.healthCheck)

	v1 := e.Group("/api/v1")
	importHandlers := importer.NewHandlers(provider, store)
	importHandlers.RegisterRoutes(v1)

	return s
}

// Start begins serving HTTP requests on the given address.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
