package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/confirm"
	"github.com/bridgearr/bridgearr/internal/metadata/trakt"
	"github.com/bridgearr/bridgearr/internal/notify/overseerr"
	"github.com/bridgearr/bridgearr/internal/queue"
	"github.com/bridgearr/bridgearr/internal/scheduler"
	"github.com/bridgearr/bridgearr/internal/seasons"
	"github.com/bridgearr/bridgearr/internal/title"
)

// RequestLister fetches approved requests still waiting on
// availability.
type RequestLister interface {
	ApprovedRequests(ctx context.Context) ([]overseerr.Request, error)
}

// MediaResolver resolves request ids into confirmed identities.
type MediaResolver interface {
	GetMedia(ctx context.Context, tmdbID int64, mediaType string) (*trakt.Media, error)
	GetSeason(ctx context.Context, traktShowID int64, season int) (*trakt.Season, error)
}

// SeasonLedger tracks partially aired seasons.
type SeasonLedger interface {
	Lookup(ctx context.Context, showTitle string, season int) (*seasons.Record, error)
	Register(ctx context.Context, showTitle string, showID int64, externalID string, season *trakt.Season) (*seasons.Record, error)
}

// Enqueuer accepts items for the confirmation worker.
type Enqueuer interface {
	TryEnqueue(item queue.Item) bool
}

// Recheck re-queues approved requests that never became available,
// typically because the service was down when the webhook fired or an
// earlier confirmation pass failed.
type Recheck struct {
	fulfillment RequestLister
	metadata    MediaResolver
	tracker     SeasonLedger
	queue       Enqueuer
	log         zerolog.Logger
}

// NewRecheck wires a recheck pass.
func NewRecheck(fulfillment RequestLister, metadata MediaResolver, tracker SeasonLedger, q Enqueuer, log zerolog.Logger) *Recheck {
	return &Recheck{
		fulfillment: fulfillment,
		metadata:    metadata,
		tracker:     tracker,
		queue:       q,
		log:         log.With().Str("component", "recheck").Logger(),
	}
}

// Run fetches the pending requests and queues each one. Shows with a
// partially aired season are left to the subscription pass, which owns
// episode-level retries.
func (r *Recheck) Run(ctx context.Context) error {
	requests, err := r.fulfillment.ApprovedRequests(ctx)
	if err != nil {
		return fmt.Errorf("fetching approved requests: %w", err)
	}
	if len(requests) == 0 {
		r.log.Debug().Msg("no pending requests")
		return nil
	}

	queued := 0
	for _, req := range requests {
		item, ok := r.prepare(ctx, req)
		if !ok {
			continue
		}
		if !r.queue.TryEnqueue(item) {
			r.log.Warn().Msg("queue full, stopping recheck pass")
			break
		}
		queued++
	}

	r.log.Info().Int("pending", len(requests)).Int("queued", queued).Msg("recheck pass finished")
	return nil
}

func (r *Recheck) prepare(ctx context.Context, req overseerr.Request) (queue.Item, bool) {
	resolved, err := r.metadata.GetMedia(ctx, req.Media.TMDBID, req.Media.MediaType)
	if err != nil {
		r.log.Error().Err(err).Int64("tmdb_id", req.Media.TMDBID).Msg("metadata resolution failed")
		return queue.Item{}, false
	}

	media := confirm.Media{
		Title:  fmt.Sprintf("%s (%d)", resolved.Title, resolved.Year),
		Year:   resolved.Year,
		IMDBID: resolved.IMDBID,
		TMDBID: req.Media.TMDBID,
		Type:   title.MediaType(req.Media.MediaType),
	}

	var seasonNumbers []int
	if media.Type == title.TV {
		var discrepant bool
		seasonNumbers, discrepant = r.checkSeasons(ctx, media, resolved.TraktID, req.Seasons)
		if discrepant {
			r.log.Info().Str("title", media.Title).Msg("season still airing, left to the subscription pass")
			return queue.Item{}, false
		}
	}

	return queue.NewItem(media, req.Media.ID, seasonNumbers), true
}

// checkSeasons registers untracked seasons and reports whether any
// requested season is partially aired.
func (r *Recheck) checkSeasons(ctx context.Context, media confirm.Media, traktShowID int64, requested []overseerr.Season) ([]int, bool) {
	var (
		numbers    []int
		discrepant bool
	)
	for _, s := range requested {
		n := s.SeasonNumber
		numbers = append(numbers, n)

		rec, err := r.tracker.Lookup(ctx, media.Title, n)
		if err != nil {
			r.log.Error().Err(err).Int("season", n).Msg("season lookup failed")
			continue
		}
		if rec == nil {
			details, err := r.metadata.GetSeason(ctx, traktShowID, n)
			if err != nil {
				r.log.Error().Err(err).Int("season", n).Msg("season details unavailable")
				continue
			}
			rec, err = r.tracker.Register(ctx, media.Title, traktShowID, media.IMDBID, details)
			if err != nil {
				r.log.Error().Err(err).Int("season", n).Msg("season registration failed")
				continue
			}
		}
		if rec.IsDiscrepant {
			discrepant = true
		}
	}
	return numbers, discrepant
}

// RegisterRequestRecheck schedules the recheck pass.
func RegisterRequestRecheck(sched *scheduler.Scheduler, recheck *Recheck, interval time.Duration) error {
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          "request-recheck",
		Name:        "Recheck Approved Requests",
		Description: "Re-queues approved requests that are still waiting to become available",
		Interval:    interval,
		Func:        recheck.Run,
	})
}
