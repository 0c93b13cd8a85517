// Package overseerr talks to the request management system that sends
// us webhooks: marking media available after confirmation and listing
// approved requests for periodic rechecks.
package overseerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/config"
)

var (
	ErrNotConfigured  = errors.New("overseerr is not configured")
	ErrAPIError       = errors.New("overseerr API error")
	ErrTMDBIDMismatch = errors.New("overseerr returned a different tmdb id")
)

// Request is one approved media request.
type Request struct {
	ID            int64    `json:"id"`
	Status        int      `json:"status"`
	IsAutoRequest bool     `json:"isAutoRequest"`
	Media         Media    `json:"media"`
	Seasons       []Season `json:"seasons"`
}

// Season is one requested season of a show request.
type Season struct {
	SeasonNumber int `json:"seasonNumber"`
}

// Media is the media object nested in a request.
type Media struct {
	ID        int64  `json:"id"`
	TMDBID    int64  `json:"tmdbId"`
	MediaType string `json:"mediaType"`
	Status    int    `json:"status"`
}

const (
	// statusApproved is the request status for approved requests.
	statusApproved = 2
	// statusProcessing is the media status while nothing has marked
	// the media available yet.
	statusProcessing = 3
)

// Client is an Overseerr/Jellyseerr API client.
type Client struct {
	httpClient *http.Client
	config     config.OverseerrConfig
	logger     zerolog.Logger
}

// NewClient creates a new client.
func NewClient(cfg config.OverseerrConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		config: cfg,
		logger: logger.With().Str("component", "overseerr").Logger(),
	}
}

// IsConfigured returns true when both the base URL and API key are
// set.
func (c *Client) IsConfigured() bool {
	return c.config.BaseURL != "" && c.config.APIKey != ""
}

// MarkAvailable marks a media item available. The response's tmdbId
// must match the request's; a mismatch means the wrong media was
// updated and is reported as an error.
func (c *Client) MarkAvailable(ctx context.Context, mediaID, tmdbID int64) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/media/%d/available", c.config.BaseURL, mediaID)
	payload, err := json.Marshal(map[string]bool{"is4k": false})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Int64("media_id", mediaID).Msg("mark available failed")
		return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var body struct {
		TMDBID int64 `json:"tmdbId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if body.TMDBID != tmdbID {
		c.logger.Error().
			Int64("expected", tmdbID).
			Int64("got", body.TMDBID).
			Msg("tmdb id mismatch on mark available")
		return ErrTMDBIDMismatch
	}

	c.logger.Info().Int64("media_id", mediaID).Msg("media marked available")
	return nil
}

// ApprovedRequests lists approved requests whose media is still
// waiting to become available.
func (c *Client) ApprovedRequests(ctx context.Context) ([]Request, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/v1/request?take=500&filter=approved&sort=added", c.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	var body struct {
		Results []Request `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var pending []Request
	for _, r := range body.Results {
		if r.Status == statusApproved && r.Media.Status == statusProcessing {
			pending = append(pending, r)
		}
	}
	c.logger.Debug().
		Int("total", len(body.Results)).
		Int("pending", len(pending)).
		Msg("approved requests fetched")
	return pending, nil
}
