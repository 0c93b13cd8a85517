package confirm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgearr/bridgearr/internal/browser"
	"github.com/bridgearr/bridgearr/internal/title"
)

func newTestConfirmer(f *browser.FakeSession) *Confirmer {
	m := title.NewMatcher(title.NewNormalizer(nil), title.DefaultThresholds)
	cfg := DefaultConfig("https://debrid.test", `^(?!.*【.*】)`)
	return New(f, m, cfg, zerolog.Nop())
}

func duneMovie() Media {
	return Media{Title: "Dune", Year: 2021, IMDBID: "tt1160419", TMDBID: 438631, Type: title.Movie}
}

func boxSelector(index int) string {
	return fmt.Sprintf("%s >> nth=%d", selResultBox, index)
}

func serveTorrentStatus(f *browser.FakeSession, count int) {
	f.SetElements(selTorrentCount, &browser.FakeElement{
		Text: fmt.Sprintf("Found %d available torrents in RD", count),
	})
}

func TestConfirmMovieNoResults(t *testing.T) {
	f := browser.NewFakeSession()
	f.SetElements(selNoResults, &browser.FakeElement{Text: "No results found"})

	verdict, err := newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, NotFound, verdict)
	assert.Equal(t, []string{"https://debrid.test/movie/tt1160419"}, f.Navigated)
}

func TestConfirmMovieAlreadyCached(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 3)
	f.SetHTML(cachedHTML)

	verdict, err := newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, Confirmed, verdict)

	// Re-running against the same page state stays confirmed and
	// never reaches for an add button.
	verdict, err = newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, Confirmed, verdict)
}

// sequencedSession records the order of page-level operations so a
// test can tell whether two flows ran back to back or stepped on each
// other's page.
type sequencedSession struct {
	*browser.FakeSession
	mu  sync.Mutex
	ops []string
}

func (s *sequencedSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.ops = append(s.ops, "navigate "+url)
	s.mu.Unlock()
	// Widen the window between navigation and readback.
	time.Sleep(20 * time.Millisecond)
	return s.FakeSession.Navigate(ctx, url)
}

func (s *sequencedSession) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.ops = append(s.ops, "content")
	s.mu.Unlock()
	return s.FakeSession.Content(ctx)
}

func TestConfirmFlowsDoNotInterleave(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 3)
	f.SetHTML(cachedHTML)
	s := &sequencedSession{FakeSession: f}

	matcher := title.NewMatcher(title.NewNormalizer(nil), title.DefaultThresholds)
	c := New(s, matcher, DefaultConfig("https://debrid.test", `^(?!.*【.*】)`), zerolog.Nop())

	first := duneMovie()
	second := duneMovie()
	second.IMDBID = "tt9999999"

	var wg sync.WaitGroup
	for _, media := range []Media{first, second} {
		wg.Add(1)
		go func(m Media) {
			defer wg.Done()
			_, err := c.ConfirmMovie(context.Background(), m)
			assert.NoError(t, err)
		}(media)
	}
	wg.Wait()

	// Each flow's navigation must be followed by its own page readback
	// before the other flow touches the page.
	require.Len(t, s.ops, 4)
	assert.Contains(t, s.ops[0], "navigate")
	assert.Equal(t, "content", s.ops[1])
	assert.Contains(t, s.ops[2], "navigate")
	assert.Equal(t, "content", s.ops[3])
	assert.NotEqual(t, s.ops[0], s.ops[2])
}

func TestConfirmMovieInstantAdd(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 5)
	f.SetHTML(resultsHTML)
	f.SetElements(selResultBox, &browser.FakeElement{})

	rdSel := boxSelector(0) + " >> " + selRDStatus
	f.SetElements(boxSelector(0)+" >> "+selInstant, &browser.FakeElement{
		Text: "Instant RD",
		OnClick: func() {
			f.SetElements(rdSel, &browser.FakeElement{Text: "RD (100%)"})
		},
	})

	verdict, err := newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, Confirmed, verdict)
}

func TestConfirmMovieUncachedAddUndone(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 1)
	f.SetHTML(`<html><body>
		<div class="border-black"><h2>Dune.2021.1080p.WEB-DL</h2>
		<button class="bg-green-900/30">Instant RD</button></div>
	</body></html>`)
	f.SetElements(selResultBox, &browser.FakeElement{})

	rdSel := boxSelector(0) + " >> " + selRDStatus
	undone := false
	f.SetElements(boxSelector(0)+" >> "+selInstant, &browser.FakeElement{
		OnClick: func() {
			f.SetElements(rdSel, &browser.FakeElement{
				Text:    "RD (0%)",
				OnClick: func() { undone = true },
			})
		},
	})

	verdict, err := newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, Rejected, verdict)
	assert.True(t, undone, "the uncached add must be clicked again to undo it")
}

func TestConfirmMovieNoMatchingCandidates(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 2)
	f.SetHTML(`<html><body>
		<div class="border-black"><h2>Interstellar.2014.1080p</h2>
		<button class="bg-green-900/30">Instant RD</button></div>
	</body></html>`)
	f.SetElements(selResultBox, &browser.FakeElement{})

	verdict, err := newTestConfirmer(f).ConfirmMovie(context.Background(), duneMovie())
	require.NoError(t, err)
	assert.Equal(t, Rejected, verdict)
}

func TestConfirmSeasonsPackAndMiss(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 4)
	f.SetHTML(`<html><body>
		<div class="border-black"><h2>The.Wire.S04.1080p.WEB-DL</h2>
		<button class="bg-green-900/30">Instant RD</button></div>
	</body></html>`)
	f.SetElements(selResultBox, &browser.FakeElement{})

	rdSel := boxSelector(0) + " >> " + selRDStatus
	f.SetElements(boxSelector(0)+" >> "+selInstant, &browser.FakeElement{
		OnClick: func() {
			f.SetElements(rdSel, &browser.FakeElement{Text: "RD (100%)"})
		},
	})

	show := Media{Title: "The Wire", IMDBID: "tt0306414", Type: title.TV}
	reports, err := newTestConfirmer(f).ConfirmSeasons(context.Background(), show, []int{4, 5})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, SeasonReport{Season: 4, Verdict: Confirmed}, reports[0])
	// The page only serves a season 4 pack, so season 5 is rejected.
	assert.Equal(t, SeasonReport{Season: 5, Verdict: Rejected}, reports[1])

	assert.Contains(t, f.Navigated, "https://debrid.test/show/tt0306414/4")
	assert.Contains(t, f.Navigated, "https://debrid.test/show/tt0306414/5")
}

func TestConfirmEpisodesFilterAndReset(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 2)
	f.SetHTML(`<html><body>
		<div class="border-black"><h2>The.Wire.S04E02.720p.HDTV</h2>
		<button class="bg-green-900/30">Instant RD</button></div>
	</body></html>`)
	f.SetElements(selResultBox, &browser.FakeElement{})

	rdSel := boxSelector(0) + " >> " + selRDStatus
	f.SetElements(boxSelector(0)+" >> "+selInstant, &browser.FakeElement{
		OnClick: func() {
			f.SetElements(rdSel, &browser.FakeElement{Text: "RD (100%)"})
		},
	})

	show := Media{Title: "The Wire", IMDBID: "tt0306414", Type: title.TV}
	c := newTestConfirmer(f)

	report, err := c.ConfirmEpisodes(context.Background(), show, 4, 2, []int{1})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 2}, report.Confirmed)
	assert.Empty(t, report.Failed)
	assert.True(t, report.AllConfirmed())

	// The filter ends back at the configured default after the pass.
	assert.Equal(t, `^(?!.*【.*】)`, f.Filled[selFilterInput])
	assert.Contains(t, f.Pressed, selFilterInput+":Enter")
}

func TestConfirmEpisodesRecordsFailures(t *testing.T) {
	f := browser.NewFakeSession()
	serveTorrentStatus(f, 1)
	f.SetHTML(`<html><body>
		<div class="border-black"><h2>The.Wire.S04E01.720p</h2>
		<button class="bg-green-900/30">Instant RD</button></div>
	</body></html>`)
	f.SetElements(selResultBox, &browser.FakeElement{})

	rdSel := boxSelector(0) + " >> " + selRDStatus
	f.SetElements(boxSelector(0)+" >> "+selInstant, &browser.FakeElement{
		OnClick: func() {
			f.SetElements(rdSel, &browser.FakeElement{Text: "RD (100%)"})
		},
	})

	show := Media{Title: "The Wire", IMDBID: "tt0306414", Type: title.TV}
	report, err := newTestConfirmer(f).ConfirmEpisodes(context.Background(), show, 4, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, report.Confirmed)
	assert.ElementsMatch(t, []int{2, 3}, report.Failed)
	assert.False(t, report.AllConfirmed())
}
