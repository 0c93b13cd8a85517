// Package trakt resolves media identity and season airing data from
// the Trakt API.
package trakt

import (
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
	ErrAPIKeyMissing = errors.New("trakt API key is not configured")
	ErrNotFound      = errors.New("not found on trakt")
	ErrAPIError      = errors.New("trakt API error")
	ErrRateLimited   = errors.New("trakt API rate limited")
)

// Media is the resolved identity of a movie or show.
type Media struct {
	Title   string
	Year    int
	IMDBID  string
	TraktID int64
}

// Season describes one season's airing state. AiredEpisodes already
// includes the next-episode probe adjustment.
type Season struct {
	Number        int
	EpisodeCount  int
	AiredEpisodes int
}

// Client is a Trakt API client. Calls are rate limited client-side to
// stay under the documented 1000 calls per 5 minutes.
type Client struct {
	httpClient *http.Client
	config     config.TraktConfig
	limiter    *limiter
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new Trakt client.
func NewClient(cfg config.TraktConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		config:  cfg,
		limiter: newLimiter(1000, 5*time.Minute),
		logger:  logger.With().Str("component", "trakt").Logger(),
		now:     time.Now,
	}
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

type ids struct {
	Trakt int64  `json:"trakt"`
	IMDB  string `json:"imdb"`
}

type mediaInfo struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   ids    `json:"ids"`
}

type searchResult struct {
	Movie *mediaInfo `json:"movie"`
	Show  *mediaInfo `json:"show"`
}

// GetMedia resolves a TMDB id to its Trakt identity. mediaType is
// "movie" or "tv".
func (c *Client) GetMedia(ctx context.Context, tmdbID int64, mediaType string) (*Media, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	traktType := "movie"
	if mediaType == "tv" {
		traktType = "show"
	}

	endpoint := fmt.Sprintf("%s/search/tmdb/%d?type=%s", c.config.BaseURL, tmdbID, traktType)
	var results []searchResult
	if err := c.doRequest(ctx, endpoint, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	info := results[0].Movie
	if traktType == "show" {
		info = results[0].Show
	}
	if info == nil {
		return nil, ErrNotFound
	}

	return &Media{
		Title:   info.Title,
		Year:    info.Year,
		IMDBID:  info.IDs.IMDB,
		TraktID: info.IDs.Trakt,
	}, nil
}

type seasonInfo struct {
	Number        int `json:"number"`
	EpisodeCount  int `json:"episode_count"`
	AiredEpisodes int `json:"aired_episodes"`
}

type episodeInfo struct {
	Number     int    `json:"number"`
	FirstAired string `json:"first_aired"`
}

// GetSeason fetches season airing data. Trakt's aired count trails
// reality around air time, so when the episode after the reported
// count already has a past first_aired the count is bumped by one.
func (c *Client) GetSeason(ctx context.Context, traktShowID int64, season int) (*Season, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/shows/%d/seasons/%d/info?extended=full", c.config.BaseURL, traktShowID, season)
	var info seasonInfo
	if err := c.doRequest(ctx, endpoint, &info); err != nil {
		return nil, err
	}

	result := &Season{
		Number:        info.Number,
		EpisodeCount:  info.EpisodeCount,
		AiredEpisodes: info.AiredEpisodes,
	}

	if info.AiredEpisodes > 0 && info.AiredEpisodes < info.EpisodeCount {
		aired, err := c.EpisodeFirstAired(ctx, traktShowID, season, info.AiredEpisodes+1)
		if err == nil && !aired.IsZero() && !c.now().UTC().Before(aired) {
			c.logger.Debug().
				Int("season", season).
				Int("episode", info.AiredEpisodes+1).
				Msg("next episode already aired, adjusting count")
			result.AiredEpisodes++
		}
	}

	return result, nil
}

// EpisodeFirstAired returns an episode's first air time, or the zero
// time when Trakt has none recorded.
func (c *Client) EpisodeFirstAired(ctx context.Context, traktShowID int64, season, episode int) (time.Time, error) {
	if !c.IsConfigured() {
		return time.Time{}, ErrAPIKeyMissing
	}

	endpoint := fmt.Sprintf("%s/shows/%d/seasons/%d/episodes/%d?extended=full", c.config.BaseURL, traktShowID, season, episode)
	var info episodeInfo
	if err := c.doRequest(ctx, endpoint, &info); err != nil {
		return time.Time{}, err
	}
	if info.FirstAired == "" {
		return time.Time{}, nil
	}

	aired, err := time.Parse(time.RFC3339, info.FirstAired)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing first_aired %q: %w", info.FirstAired, err)
	}
	return aired.UTC(), nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, result interface{}) error {
	if err := c.limiter.acquire(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-key", c.config.APIKey)
	req.Header.Set("trakt-api-version", "2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", endpoint).Msg("HTTP request failed")
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Str("url", endpoint).Msg("trakt API error")
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusTooManyRequests:
			return ErrRateLimited
		default:
			return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
