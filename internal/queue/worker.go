package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/confirm"
	"github.com/bridgearr/bridgearr/internal/seasons"
)

// Confirmer runs browser confirmation flows.
type Confirmer interface {
	ConfirmMovie(ctx context.Context, m confirm.Media) (confirm.Verdict, error)
	ConfirmSeasons(ctx context.Context, m confirm.Media, seasonNumbers []int) ([]confirm.SeasonReport, error)
	ConfirmEpisodes(ctx context.Context, m confirm.Media, season, airedEpisodes int, skip []int) (confirm.EpisodeReport, error)
}

// Notifier marks a request available in the fulfillment system.
type Notifier interface {
	MarkAvailable(ctx context.Context, mediaID, tmdbID int64) error
}

// SessionKeeper keeps the browser process healthy between items.
type SessionKeeper interface {
	EnsureAlive(ctx context.Context) error
}

// Broadcaster pushes live events to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// Auditor appends confirmation outcomes to the audit trail.
type Auditor interface {
	RecordConfirmation(ctx context.Context, requestID, externalID, title, mediaType, outcome, detail string) error
}

// Worker drains the queue into the browser, one item at a time. The
// browser session cannot run concurrent flows, so there is exactly one
// worker.
type Worker struct {
	queue     *Queue
	session   SessionKeeper
	confirmer Confirmer
	tracker   *seasons.Tracker
	notifier  Notifier
	events    Broadcaster
	audit     Auditor
	log       zerolog.Logger
}

// NewWorker wires a worker. events and audit may be nil.
func NewWorker(q *Queue, session SessionKeeper, confirmer Confirmer, tracker *seasons.Tracker, notifier Notifier, events Broadcaster, audit Auditor, log zerolog.Logger) *Worker {
	return &Worker{
		queue:     q,
		session:   session,
		confirmer: confirmer,
		tracker:   tracker,
		notifier:  notifier,
		events:    events,
		audit:     audit,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// Run processes items until the context is cancelled. A failure on one
// item never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Msg("queue worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("queue worker stopped")
			return
		case item := <-w.queue.Items():
			w.safeProcess(ctx, item)
		}
	}
}

func (w *Worker) safeProcess(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().
				Str("request_id", item.ID).
				Interface("panic", r).
				Msg("panic while processing request")
		}
	}()
	w.process(ctx, item)
}

func (w *Worker) process(ctx context.Context, item Item) {
	log := w.log.With().Str("request_id", item.ID).Str("title", item.Media.Title).Logger()
	log.Info().Msg("processing request")

	if w.session != nil {
		if err := w.session.EnsureAlive(ctx); err != nil {
			log.Error().Err(err).Msg("browser session unavailable")
			w.finish(ctx, item, confirm.Rejected, "browser session unavailable")
			return
		}
	}

	var (
		verdict confirm.Verdict
		detail  string
		err     error
	)
	if len(item.Seasons) > 0 {
		verdict, detail, err = w.processShow(ctx, item)
	} else {
		verdict, err = w.confirmer.ConfirmMovie(ctx, item.Media)
	}
	if err != nil {
		log.Error().Err(err).Msg("confirmation errored")
		w.finish(ctx, item, confirm.Rejected, err.Error())
		return
	}

	// Webhook intake does not carry the fulfillment system's media row
	// id, only the scheduled recheck path does. Without it there is
	// nothing to mark.
	if verdict == confirm.Confirmed && w.notifier != nil && item.MediaID > 0 {
		if err := w.notifier.MarkAvailable(ctx, item.MediaID, item.Media.TMDBID); err != nil {
			log.Error().Err(err).Msg("failed to mark request available")
		} else {
			log.Info().Msg("request marked available")
		}
	}

	w.finish(ctx, item, verdict, detail)
}

// processShow confirms each requested season, going episode by
// episode for seasons tracked as discrepant. The item is confirmed
// only when every season came through.
func (w *Worker) processShow(ctx context.Context, item Item) (confirm.Verdict, string, error) {
	var packSeasons []int
	allConfirmed := true
	var details []string

	for _, season := range item.Seasons {
		rec, err := w.lookup(ctx, item.Media.Title, season)
		if err != nil {
			return confirm.Rejected, "", err
		}
		if rec == nil || !rec.IsDiscrepant {
			packSeasons = append(packSeasons, season)
			continue
		}

		report, err := w.confirmer.ConfirmEpisodes(ctx, item.Media, season, rec.AiredEpisodes, rec.ConfirmedEpisodes)
		if err != nil {
			return confirm.Rejected, "", err
		}
		if err := w.tracker.RecordResult(ctx, rec, report); err != nil {
			w.log.Error().Err(err).Int("season", season).Msg("failed to persist episode results")
		}
		if !report.AllConfirmed() {
			allConfirmed = false
			details = append(details, fmt.Sprintf("season %d: %d episode(s) failed", season, len(report.Failed)))
		}
	}

	if len(packSeasons) > 0 {
		reports, err := w.confirmer.ConfirmSeasons(ctx, item.Media, packSeasons)
		if err != nil {
			return confirm.Rejected, "", err
		}
		for _, r := range reports {
			if r.Verdict != confirm.Confirmed {
				allConfirmed = false
				details = append(details, fmt.Sprintf("season %d: %s", r.Season, r.Verdict))
			}
		}
	}

	if allConfirmed {
		return confirm.Confirmed, "", nil
	}
	return confirm.Rejected, strings.Join(details, "; "), nil
}

func (w *Worker) lookup(ctx context.Context, showTitle string, season int) (*seasons.Record, error) {
	if w.tracker == nil {
		return nil, nil
	}
	return w.tracker.Lookup(ctx, showTitle, season)
}

func (w *Worker) finish(ctx context.Context, item Item, verdict confirm.Verdict, detail string) {
	w.log.Info().
		Str("request_id", item.ID).
		Str("verdict", string(verdict)).
		Str("detail", detail).
		Msg("request finished")

	if w.audit != nil {
		err := w.audit.RecordConfirmation(ctx, item.ID, item.Media.IMDBID,
			item.Media.Title, string(item.Media.Type), string(verdict), detail)
		if err != nil {
			w.log.Error().Err(err).Msg("failed to record confirmation")
		}
	}

	if w.events != nil {
		w.events.Broadcast("confirmation", map[string]interface{}{
			"request_id": item.ID,
			"title":      item.Media.Title,
			"media_type": string(item.Media.Type),
			"verdict":    string(verdict),
			"detail":     detail,
		})
	}
}
