package seasons

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/confirm"
	"github.com/bridgearr/bridgearr/internal/metadata/trakt"
	"github.com/bridgearr/bridgearr/internal/title"
)

// SeasonFetcher is the slice of the metadata client the tracker needs.
type SeasonFetcher interface {
	GetSeason(ctx context.Context, traktShowID int64, season int) (*trakt.Season, error)
}

// EpisodeConfirmer runs the episode-by-episode browser flow.
type EpisodeConfirmer interface {
	ConfirmEpisodes(ctx context.Context, m confirm.Media, season, airedEpisodes int, skip []int) (confirm.EpisodeReport, error)
}

// Tracker owns season discrepancy state: it registers seasons whose
// packs cannot cover the episode list, records confirmation progress,
// and rechecks unresolved seasons as new episodes air.
type Tracker struct {
	store     *Store
	metadata  SeasonFetcher
	confirmer EpisodeConfirmer
	log       zerolog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store *Store, metadata SeasonFetcher, confirmer EpisodeConfirmer, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		metadata:  metadata,
		confirmer: confirmer,
		log:       log.With().Str("component", "seasons").Logger(),
	}
}

// Register records a season's airing state. A season is discrepant
// exactly when its episode count and aired count disagree; a fully
// aired season can always be satisfied by a pack and never enters
// episode tracking.
func (t *Tracker) Register(ctx context.Context, showTitle string, showID int64, externalID string, season *trakt.Season) (*Record, error) {
	rec := &Record{
		ShowTitle:     showTitle,
		ShowID:        showID,
		ExternalID:    externalID,
		SeasonNumber:  season.Number,
		EpisodeCount:  season.EpisodeCount,
		AiredEpisodes: season.AiredEpisodes,
		IsDiscrepant:  season.EpisodeCount != season.AiredEpisodes,
	}
	if err := t.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	stored, err := t.store.Get(ctx, showTitle, season.Number)
	if err != nil {
		return nil, err
	}
	t.log.Info().
		Str("show", showTitle).
		Int("season", season.Number).
		Bool("discrepant", stored.IsDiscrepant).
		Int("aired", season.AiredEpisodes).
		Int("episodes", season.EpisodeCount).
		Msg("season registered")
	return stored, nil
}

// Lookup returns the tracked record for a show season, or nil when the
// season was never registered as discrepant.
func (t *Tracker) Lookup(ctx context.Context, showTitle string, season int) (*Record, error) {
	rec, err := t.store.Get(ctx, showTitle, season)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// RecordResult persists the outcome of an episode pass. Confirmed
// episodes accumulate; failed episodes are replaced by the new pass.
func (t *Tracker) RecordResult(ctx context.Context, rec *Record, report confirm.EpisodeReport) error {
	confirmed := mergeEpisodes(rec.ConfirmedEpisodes, report.Confirmed)
	failed := sortedUnique(report.Failed)

	discrepant := rec.EpisodeCount != rec.AiredEpisodes || len(failed) > 0
	return t.store.UpdateProgress(ctx, rec.ID, rec.AiredEpisodes, rec.EpisodeCount, confirmed, failed, discrepant)
}

// Recheck walks every discrepant season, refreshes its airing data and
// re-runs the episode flow over the episodes still worth trying: the
// previously failed ones that are within the aired range, plus any
// newly aired ones.
func (t *Tracker) Recheck(ctx context.Context) error {
	records, err := t.store.Discrepant(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		t.log.Debug().Msg("no discrepant seasons to recheck")
		return nil
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.recheckRecord(ctx, rec); err != nil {
			t.log.Error().Err(err).
				Str("show", rec.ShowTitle).
				Int("season", rec.SeasonNumber).
				Msg("season recheck failed")
		}
	}
	return nil
}

func (t *Tracker) recheckRecord(ctx context.Context, rec *Record) error {
	season, err := t.metadata.GetSeason(ctx, rec.ShowID, rec.SeasonNumber)
	if err != nil {
		return err
	}

	work := workList(rec, season.AiredEpisodes)
	rec.AiredEpisodes = season.AiredEpisodes
	rec.EpisodeCount = season.EpisodeCount

	if len(work) == 0 {
		discrepant := rec.EpisodeCount != rec.AiredEpisodes
		t.log.Debug().
			Str("show", rec.ShowTitle).
			Int("season", rec.SeasonNumber).
			Msg("nothing to recheck")
		return t.store.UpdateProgress(ctx, rec.ID, rec.AiredEpisodes, rec.EpisodeCount,
			rec.ConfirmedEpisodes, nil, discrepant)
	}

	t.log.Info().
		Str("show", rec.ShowTitle).
		Int("season", rec.SeasonNumber).
		Ints("episodes", work).
		Msg("rechecking episodes")

	media := confirm.Media{
		Title:  rec.ShowTitle,
		IMDBID: rec.ExternalID,
		Type:   title.TV,
	}

	// Skip everything that is not on the work list; ConfirmEpisodes
	// treats skipped episodes as already confirmed.
	skip := episodesOutside(work, season.AiredEpisodes)
	report, err := t.confirmer.ConfirmEpisodes(ctx, media, rec.SeasonNumber, season.AiredEpisodes, skip)
	if err != nil {
		return err
	}

	report.Confirmed = intersect(report.Confirmed, work)
	return t.RecordResult(ctx, rec, report)
}

// workList is the set of episodes a recheck should attempt: failed
// episodes still inside the aired range plus episodes that aired since
// the last check. Confirmed episodes are never retried.
func workList(rec *Record, airedNow int) []int {
	confirmed := make(map[int]struct{}, len(rec.ConfirmedEpisodes))
	for _, e := range rec.ConfirmedEpisodes {
		confirmed[e] = struct{}{}
	}

	var work []int
	for _, e := range rec.FailedEpisodes {
		if e >= 1 && e <= airedNow {
			work = append(work, e)
		}
	}
	for e := rec.AiredEpisodes + 1; e <= airedNow; e++ {
		if _, ok := confirmed[e]; !ok {
			work = append(work, e)
		}
	}
	return sortedUnique(work)
}

func episodesOutside(work []int, aired int) []int {
	inWork := make(map[int]struct{}, len(work))
	for _, e := range work {
		inWork[e] = struct{}{}
	}
	var skip []int
	for e := 1; e <= aired; e++ {
		if _, ok := inWork[e]; !ok {
			skip = append(skip, e)
		}
	}
	return skip
}

func mergeEpisodes(a, b []int) []int {
	return sortedUnique(append(append([]int{}, a...), b...))
}

func intersect(a, b []int) []int {
	inB := make(map[int]struct{}, len(b))
	for _, e := range b {
		inB[e] = struct{}{}
	}
	var out []int
	for _, e := range a {
		if _, ok := inB[e]; ok {
			out = append(out, e)
		}
	}
	return sortedUnique(out)
}

func sortedUnique(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(in))
	var out []int
	for _, e := range in {
		if _, ok := seen[e]; !ok {
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	sort.Ints(out)
	return out
}
