package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgearr/bridgearr/internal/metadata/trakt"
	"github.com/bridgearr/bridgearr/internal/notify/overseerr"
	"github.com/bridgearr/bridgearr/internal/queue"
	"github.com/bridgearr/bridgearr/internal/seasons"
)

type stubLister struct {
	requests []overseerr.Request
	err      error
}

func (s *stubLister) ApprovedRequests(ctx context.Context) ([]overseerr.Request, error) {
	return s.requests, s.err
}

type stubResolver struct {
	media   map[int64]*trakt.Media
	seasons map[int]*trakt.Season
}

func (s *stubResolver) GetMedia(ctx context.Context, tmdbID int64, mediaType string) (*trakt.Media, error) {
	if m, ok := s.media[tmdbID]; ok {
		return m, nil
	}
	return nil, trakt.ErrNotFound
}

func (s *stubResolver) GetSeason(ctx context.Context, traktShowID int64, season int) (*trakt.Season, error) {
	if d, ok := s.seasons[season]; ok {
		return d, nil
	}
	return nil, trakt.ErrNotFound
}

type stubLedger struct {
	tracked map[int]*seasons.Record
}

func (s *stubLedger) Lookup(ctx context.Context, showTitle string, season int) (*seasons.Record, error) {
	return s.tracked[season], nil
}

func (s *stubLedger) Register(ctx context.Context, showTitle string, showID int64, externalID string, season *trakt.Season) (*seasons.Record, error) {
	rec := &seasons.Record{
		SeasonNumber:  season.Number,
		EpisodeCount:  season.EpisodeCount,
		AiredEpisodes: season.AiredEpisodes,
		IsDiscrepant:  season.EpisodeCount != season.AiredEpisodes,
	}
	s.tracked[season.Number] = rec
	return rec, nil
}

type stubQueue struct {
	items []queue.Item
	full  bool
}

func (s *stubQueue) TryEnqueue(item queue.Item) bool {
	if s.full {
		return false
	}
	s.items = append(s.items, item)
	return true
}

type recheckFixture struct {
	recheck  *Recheck
	lister   *stubLister
	resolver *stubResolver
	ledger   *stubLedger
	queue    *stubQueue
}

func newRecheckFixture() *recheckFixture {
	f := &recheckFixture{
		lister: &stubLister{},
		resolver: &stubResolver{
			media:   map[int64]*trakt.Media{},
			seasons: map[int]*trakt.Season{},
		},
		ledger: &stubLedger{tracked: map[int]*seasons.Record{}},
		queue:  &stubQueue{},
	}
	f.recheck = NewRecheck(f.lister, f.resolver, f.ledger, f.queue, zerolog.Nop())
	return f
}

func movieRequest(id, mediaID, tmdbID int64) overseerr.Request {
	return overseerr.Request{
		ID:     id,
		Status: 2,
		Media:  overseerr.Media{ID: mediaID, TMDBID: tmdbID, MediaType: "movie", Status: 3},
	}
}

func TestRecheckQueuesMovies(t *testing.T) {
	f := newRecheckFixture()
	f.lister.requests = []overseerr.Request{movieRequest(1, 10, 438631)}
	f.resolver.media[438631] = &trakt.Media{Title: "Dune", Year: 2021, IMDBID: "tt1160419"}

	require.NoError(t, f.recheck.Run(context.Background()))

	require.Len(t, f.queue.items, 1)
	item := f.queue.items[0]
	assert.Equal(t, "Dune (2021)", item.Media.Title)
	assert.Equal(t, int64(10), item.MediaID)
	assert.Empty(t, item.Seasons)
}

func TestRecheckSkipsUnresolvableMedia(t *testing.T) {
	f := newRecheckFixture()
	f.lister.requests = []overseerr.Request{
		movieRequest(1, 10, 111),
		movieRequest(2, 20, 438631),
	}
	f.resolver.media[438631] = &trakt.Media{Title: "Dune", Year: 2021, IMDBID: "tt1160419"}

	require.NoError(t, f.recheck.Run(context.Background()))

	require.Len(t, f.queue.items, 1)
	assert.Equal(t, int64(20), f.queue.items[0].MediaID)
}

func TestRecheckQueuesFullyAiredShow(t *testing.T) {
	f := newRecheckFixture()
	f.lister.requests = []overseerr.Request{{
		ID:      1,
		Status:  2,
		Media:   overseerr.Media{ID: 30, TMDBID: 95396, MediaType: "tv", Status: 3},
		Seasons: []overseerr.Season{{SeasonNumber: 1}},
	}}
	f.resolver.media[95396] = &trakt.Media{Title: "Severance", Year: 2022, IMDBID: "tt11280740", TraktID: 166260}
	f.resolver.seasons[1] = &trakt.Season{Number: 1, EpisodeCount: 9, AiredEpisodes: 9}

	require.NoError(t, f.recheck.Run(context.Background()))

	require.Len(t, f.queue.items, 1)
	assert.Equal(t, []int{1}, f.queue.items[0].Seasons)
	// The fully aired season was registered along the way.
	require.NotNil(t, f.ledger.tracked[1])
	assert.False(t, f.ledger.tracked[1].IsDiscrepant)
}

func TestRecheckLeavesAiringShowsToSubscriptions(t *testing.T) {
	f := newRecheckFixture()
	f.lister.requests = []overseerr.Request{{
		ID:      1,
		Status:  2,
		Media:   overseerr.Media{ID: 30, TMDBID: 95396, MediaType: "tv", Status: 3},
		Seasons: []overseerr.Season{{SeasonNumber: 2}},
	}}
	f.resolver.media[95396] = &trakt.Media{Title: "Severance", Year: 2022, IMDBID: "tt11280740", TraktID: 166260}
	f.resolver.seasons[2] = &trakt.Season{Number: 2, EpisodeCount: 10, AiredEpisodes: 4}

	require.NoError(t, f.recheck.Run(context.Background()))

	assert.Empty(t, f.queue.items)
	// Registered so the subscription pass picks it up.
	require.NotNil(t, f.ledger.tracked[2])
	assert.True(t, f.ledger.tracked[2].IsDiscrepant)
}

func TestRecheckStopsWhenQueueFull(t *testing.T) {
	f := newRecheckFixture()
	f.queue.full = true
	f.lister.requests = []overseerr.Request{movieRequest(1, 10, 438631)}
	f.resolver.media[438631] = &trakt.Media{Title: "Dune", Year: 2021, IMDBID: "tt1160419"}

	require.NoError(t, f.recheck.Run(context.Background()))
	assert.Empty(t, f.queue.items)
}

func TestRecheckPropagatesListError(t *testing.T) {
	f := newRecheckFixture()
	f.lister.err = errors.New("connection refused")

	err := f.recheck.Run(context.Background())
	assert.ErrorContains(t, err, "fetching approved requests")
}
