package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bridgearr/bridgearr/internal/confirm"
	"github.com/bridgearr/bridgearr/internal/queue"
	"github.com/bridgearr/bridgearr/internal/title"
)

// WebhookPayload is the Overseerr/Jellyseerr webhook shape. Only the
// fields the intake path reads are modeled; the rest passes through
// unvalidated.
type WebhookPayload struct {
	NotificationType string         `json:"notification_type"`
	Event            string         `json:"event"`
	Subject          string         `json:"subject"`
	Media            *WebhookMedia  `json:"media"`
	Extra            []WebhookExtra `json:"extra"`
}

// WebhookMedia identifies the requested content.
type WebhookMedia struct {
	MediaType string `json:"media_type"`
	TMDBID    int64  `json:"tmdbId"`
	Status    string `json:"status"`
}

// WebhookExtra is one key/value pair of the payload's extra bag.
type WebhookExtra struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// requestedSeasons extracts the requested seasons value from the extra
// bag, empty when absent.
func (p *WebhookPayload) requestedSeasons() string {
	for _, e := range p.Extra {
		if e.Name == "Requested Seasons" {
			return e.Value
		}
	}
	return ""
}

// handleWebhook accepts approved-request notifications, resolves the
// media identity and queues it for confirmation.
func (s *Server) handleWebhook(c echo.Context) error {
	var payload WebhookPayload
	if err := c.Bind(&payload); err != nil {
		s.logger.Error().Err(err).Msg("webhook payload validation error")
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "invalid payload"})
	}

	if payload.NotificationType == "TEST_NOTIFICATION" {
		s.logger.Info().Msg("test notification received")
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "success",
			"message": "Test notification processed successfully.",
		})
	}

	if payload.Media == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "media information is missing"})
	}
	if payload.Media.TMDBID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tmdb id is missing"})
	}

	mediaType := payload.Media.MediaType
	if mediaType != string(title.Movie) && mediaType != string(title.TV) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unsupported media type: " + mediaType})
	}

	if s.tokens != nil && s.tokens.NeedsSetup() {
		s.logger.Warn().Msg("webhook refused, debrid credentials need setup")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "debrid credentials need setup"})
	}

	ctx := c.Request().Context()
	resolved, err := s.metadata.GetMedia(ctx, payload.Media.TMDBID, mediaType)
	if err != nil {
		s.logger.Error().Err(err).Int64("tmdb_id", payload.Media.TMDBID).Msg("metadata resolution failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to resolve media details"})
	}

	media := confirm.Media{
		Title:  fmt.Sprintf("%s (%d)", resolved.Title, resolved.Year),
		Year:   resolved.Year,
		IMDBID: resolved.IMDBID,
		TMDBID: payload.Media.TMDBID,
		Type:   title.MediaType(mediaType),
	}

	var seasonNumbers []int
	if mediaType == string(title.TV) {
		seasonNumbers = queue.ParseSeasons(payload.requestedSeasons())
		s.registerSeasons(c, media, resolved.TraktID, seasonNumbers)
	}

	item := queue.NewItem(media, 0, seasonNumbers)
	if !s.queue.TryEnqueue(item) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "request queue is full"})
	}

	s.logger.Info().
		Str("request_id", item.ID).
		Str("title", media.Title).
		Str("media_type", mediaType).
		Ints("seasons", seasonNumbers).
		Msg("webhook accepted")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "queued",
		"requestId": item.ID,
		"title":     media.Title,
	})
}

// registerSeasons records airing state for each requested season so
// partially aired ones are tracked before the worker picks the item
// up. Registration failures are logged, not fatal; the worker treats
// untracked seasons as season packs.
func (s *Server) registerSeasons(c echo.Context, media confirm.Media, traktShowID int64, seasonNumbers []int) {
	if s.tracker == nil || s.metadata == nil {
		return
	}
	ctx := c.Request().Context()

	for _, n := range seasonNumbers {
		existing, err := s.tracker.Lookup(ctx, media.Title, n)
		if err != nil {
			s.logger.Error().Err(err).Int("season", n).Msg("season lookup failed")
			continue
		}
		if existing != nil {
			s.logger.Debug().Str("title", media.Title).Int("season", n).Msg("season already tracked")
			continue
		}

		details, err := s.metadata.GetSeason(ctx, traktShowID, n)
		if err != nil {
			s.logger.Error().Err(err).Int("season", n).Msg("season details unavailable")
			continue
		}
		if _, err := s.tracker.Register(ctx, media.Title, traktShowID, media.IMDBID, details); err != nil {
			s.logger.Error().Err(err).Int("season", n).Msg("season registration failed")
		}
	}
}
