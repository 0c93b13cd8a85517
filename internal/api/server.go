// Package api exposes the HTTP surface: the webhook intake endpoint,
// status and history endpoints, and the WebSocket event stream.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/config"
	"github.com/bridgearr/bridgearr/internal/database"
	"github.com/bridgearr/bridgearr/internal/events"
	"github.com/bridgearr/bridgearr/internal/metadata/trakt"
	"github.com/bridgearr/bridgearr/internal/queue"
	"github.com/bridgearr/bridgearr/internal/seasons"
)

// MetadataResolver resolves intake payloads into confirmed identities.
type MetadataResolver interface {
	GetMedia(ctx context.Context, tmdbID int64, mediaType string) (*trakt.Media, error)
	GetSeason(ctx context.Context, traktShowID int64, season int) (*trakt.Season, error)
}

// SeasonRegistrar pre-registers partially aired seasons at intake so
// the worker and the subscription recheck know to go episode by
// episode.
type SeasonRegistrar interface {
	Lookup(ctx context.Context, showTitle string, season int) (*seasons.Record, error)
	Register(ctx context.Context, showTitle string, showID int64, externalID string, season *trakt.Season) (*seasons.Record, error)
}

// Enqueuer accepts normalized requests for the worker.
type Enqueuer interface {
	TryEnqueue(item queue.Item) bool
	Len() int
}

// SetupChecker reports whether debrid credentials need operator
// attention.
type SetupChecker interface {
	NeedsSetup() bool
}

// Server handles HTTP requests for the Bridgearr API.
type Server struct {
	echo      *echo.Echo
	db        *database.DB
	hub       *events.Hub
	logger    zerolog.Logger
	cfg       *config.Config
	metadata  MetadataResolver
	tracker   SeasonRegistrar
	queue     Enqueuer
	tokens    SetupChecker
	startTime time.Time
}

// NewServer creates a new API server instance. tokens may be nil when
// credential management is disabled.
func NewServer(db *database.DB, hub *events.Hub, cfg *config.Config, metadata MetadataResolver, tracker SeasonRegistrar, q Enqueuer, tokens SetupChecker, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		db:        db,
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
		metadata:  metadata,
		tracker:   tracker,
		queue:     q,
		tokens:    tokens,
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.POST("/webhook", s.handleWebhook)

	if s.hub != nil {
		s.echo.GET("/ws", s.hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.GET("/history", s.getHistory)
}

// Start begins listening for HTTP requests.
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

func (s *Server) getStatus(c echo.Context) error {
	needsSetup := false
	if s.tokens != nil {
		needsSetup = s.tokens.NeedsSetup()
	}

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":    "0.0.1-dev",
		"startTime":  s.startTime.Format(time.RFC3339),
		"queueDepth": s.queue.Len(),
		"needsSetup": needsSetup,
		"wsClients":  clients,
	})
}

// getHistory returns recent confirmation outcomes from the audit
// trail.
func (s *Server) getHistory(c echo.Context) error {
	limit := 50
	offset := 0

	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil {
			offset = parsed
		}
	}

	rows, err := s.db.ListConfirmations(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if rows == nil {
		rows = []database.Confirmation{}
	}
	return c.JSON(http.StatusOK, rows)
}
