// Package confirm drives a browser session through the debrid manager
// UI to verify that requested content is fully cached, triggering a
// cache add where an instant option exists.
package confirm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/browser"
	"github.com/bridgearr/bridgearr/internal/title"
)

// Selector and status strings for the debrid manager UI. Class names
// are matched by substring because the UI composes utility classes.
const (
	selStatus       = "div[role='status'][aria-live='polite']"
	selNoResults    = "div[role='status']:has-text('No results found')"
	selChecking     = "div[role='status']:has-text('Checking RD availability')"
	selTorrentCount = "div[role='status']:has-text('available torrents in RD')"
	selResultBox    = "div[class*='border-black']"
	selInstant      = "button[class*='bg-green-900/30']"
	selDLWithRD     = "button:has-text('DL with RD')"
	selRDStatus     = "button:has-text('RD (')"
	selFilterInput  = "#query"
	selShowMore     = "button:has-text('Show More Results')"

	rdConfirmed = "RD (100%)"
	rdUncached  = "RD (0%)"
)

var torrentCountRe = regexp.MustCompile(`Found (\d+) available torrents in RD`)

// Verdict is the terminal state of a confirmation attempt.
type Verdict string

const (
	// Confirmed means a fully cached matching release exists.
	Confirmed Verdict = "confirmed"
	// Rejected means candidates existed but none matched or none
	// turned out cached.
	Rejected Verdict = "rejected"
	// NotFound means the service had no results at all.
	NotFound Verdict = "not_found"
)

// Media identifies the content being confirmed.
type Media struct {
	Title  string
	Year   int
	IMDBID string
	TMDBID int64
	Type   title.MediaType
}

func (m Media) request() title.Request {
	return title.Request{Title: m.Title, Year: m.Year, MediaType: m.Type}
}

// SeasonReport is the per-season outcome of a show confirmation.
type SeasonReport struct {
	Season  int
	Verdict Verdict
}

// EpisodeReport is the outcome of an episode-by-episode pass over one
// season.
type EpisodeReport struct {
	Season    int
	Confirmed []int
	Failed    []int
}

// AllConfirmed reports whether no episode failed.
func (r EpisodeReport) AllConfirmed() bool { return len(r.Failed) == 0 }

// Config holds the confirmation timing and filter settings.
type Config struct {
	BaseURL     string
	FilterRegex string

	StatusTimeout   time.Duration
	CheckingTimeout time.Duration
	ResultTimeout   time.Duration
}

// DefaultConfig returns the production timing defaults.
func DefaultConfig(baseURL, filterRegex string) Config {
	return Config{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		FilterRegex:     filterRegex,
		StatusTimeout:   10 * time.Second,
		CheckingTimeout: 15 * time.Second,
		ResultTimeout:   10 * time.Second,
	}
}

// Confirmer runs confirmation flows against a browser session.
type Confirmer struct {
	session browser.Session
	matcher *title.Matcher
	cfg     Config
	log     zerolog.Logger
}

// New creates a Confirmer.
func New(session browser.Session, matcher *title.Matcher, cfg Config, log zerolog.Logger) *Confirmer {
	return &Confirmer{
		session: session,
		matcher: matcher,
		cfg:     cfg,
		log:     log.With().Str("component", "confirm").Logger(),
	}
}

// ConfirmMovie verifies that a movie is cached, clicking an instant
// add when needed. The session flow lock is held for the whole run so
// scheduled tasks sharing the browser cannot replace the page
// mid-flow.
func (c *Confirmer) ConfirmMovie(ctx context.Context, m Media) (Verdict, error) {
	c.session.Acquire()
	defer c.session.Release()

	url := fmt.Sprintf("%s/movie/%s", c.cfg.BaseURL, m.IMDBID)
	if err := c.session.Navigate(ctx, url); err != nil {
		return Rejected, err
	}
	c.log.Info().Str("title", m.Title).Str("url", url).Msg("movie page opened")

	noResults, count := c.waitForResults(ctx)
	if noResults {
		c.log.Warn().Str("title", m.Title).Msg("no results for movie")
		return NotFound, nil
	}
	c.log.Debug().Int("torrents", count).Msg("result status settled")

	target := title.Target{}
	cached, err := c.scanCached(ctx, m, target)
	if err != nil {
		return Rejected, err
	}
	if cached {
		c.log.Info().Str("title", m.Title).Msg("movie already cached")
		return Confirmed, nil
	}

	return c.claimFromBoxes(ctx, m, target)
}

// ConfirmSeasons processes season-pack confirmation for each requested
// season of a show, season by season on its own page.
func (c *Confirmer) ConfirmSeasons(ctx context.Context, m Media, seasons []int) ([]SeasonReport, error) {
	c.session.Acquire()
	defer c.session.Release()

	reports := make([]SeasonReport, 0, len(seasons))

	for _, season := range seasons {
		verdict, err := c.confirmSeason(ctx, m, season)
		if err != nil {
			c.log.Error().Err(err).Int("season", season).Msg("season confirmation failed")
			verdict = Rejected
		}
		reports = append(reports, SeasonReport{Season: season, Verdict: verdict})
	}
	return reports, nil
}

func (c *Confirmer) confirmSeason(ctx context.Context, m Media, season int) (Verdict, error) {
	url := fmt.Sprintf("%s/show/%s/%d", c.cfg.BaseURL, m.IMDBID, season)
	if err := c.session.Navigate(ctx, url); err != nil {
		return Rejected, err
	}
	c.log.Info().Str("title", m.Title).Int("season", season).Msg("season page opened")

	noResults, _ := c.waitForResults(ctx)
	if noResults {
		return NotFound, nil
	}

	target := title.Target{Season: season}
	cached, err := c.scanCached(ctx, m, target)
	if err != nil {
		return Rejected, err
	}
	if cached {
		c.log.Info().Int("season", season).Msg("season already cached")
		return Confirmed, nil
	}

	return c.claimFromBoxes(ctx, m, target)
}

// ConfirmEpisodes runs the episode-by-episode flow for a season whose
// pack coverage is incomplete. Episodes listed in skip are treated as
// already confirmed. The search filter is narrowed per episode and
// restored before returning.
func (c *Confirmer) ConfirmEpisodes(ctx context.Context, m Media, season, airedEpisodes int, skip []int) (EpisodeReport, error) {
	c.session.Acquire()
	defer c.session.Release()

	report := EpisodeReport{Season: season}

	url := fmt.Sprintf("%s/show/%s/%d", c.cfg.BaseURL, m.IMDBID, season)
	if err := c.session.Navigate(ctx, url); err != nil {
		return report, err
	}
	c.session.WaitVisible(ctx, selStatus, c.cfg.StatusTimeout)

	defer c.resetFilter(ctx)

	skipSet := make(map[int]struct{}, len(skip))
	for _, e := range skip {
		skipSet[e] = struct{}{}
		report.Confirmed = append(report.Confirmed, e)
	}

	for ep := 1; ep <= airedEpisodes; ep++ {
		if _, ok := skipSet[ep]; ok {
			continue
		}

		code := title.EpisodeCode(season, ep)
		if err := c.applyEpisodeFilter(ctx, code); err != nil {
			c.log.Error().Err(err).Str("episode", code).Msg("filter not applied")
			report.Failed = append(report.Failed, ep)
			continue
		}

		target := title.Target{Season: season, Episode: ep}
		cached, err := c.scanCached(ctx, m, target)
		if err != nil {
			report.Failed = append(report.Failed, ep)
			continue
		}
		if cached {
			c.log.Info().Str("episode", code).Msg("episode already cached")
			report.Confirmed = append(report.Confirmed, ep)
			continue
		}

		verdict, err := c.claimFromBoxes(ctx, m, target)
		if err != nil || verdict != Confirmed {
			c.log.Warn().Str("episode", code).Msg("episode not confirmed")
			report.Failed = append(report.Failed, ep)
			continue
		}
		report.Confirmed = append(report.Confirmed, ep)
	}

	return report, nil
}

// waitForResults walks the page's status ladder: an immediate "No
// results found" ends the run; otherwise the availability check is
// given time to finish and the torrent count is read when announced.
func (c *Confirmer) waitForResults(ctx context.Context) (noResults bool, torrents int) {
	if c.session.WaitVisible(ctx, selNoResults, 2*time.Second).Found() {
		return true, 0
	}

	if c.session.WaitVisible(ctx, selChecking, 5*time.Second).Found() {
		if c.session.WaitHidden(ctx, selChecking, c.cfg.CheckingTimeout).TimedOut() {
			c.log.Warn().Msg("availability check still running, proceeding")
		}
	}

	if !c.session.WaitVisible(ctx, selTorrentCount, c.cfg.StatusTimeout).Found() {
		return false, 0
	}
	text := c.session.TextAt(ctx, selTorrentCount, 0)
	if !text.Found() {
		return false, 0
	}
	if m := torrentCountRe.FindStringSubmatch(text.Value); m != nil {
		fmt.Sscanf(m[1], "%d", &torrents)
	}
	return false, torrents
}

// scanCached checks the releases the page already reports fully
// cached against the request, using the tolerant cached threshold.
func (c *Confirmer) scanCached(ctx context.Context, m Media, target title.Target) (bool, error) {
	html, err := c.session.Content(ctx)
	if err != nil {
		return false, err
	}
	entries, err := parseCachedEntries(html)
	if err != nil {
		return false, err
	}

	target.Cached = true
	for _, e := range entries {
		if c.matcher.Matches(e.Title, m.request(), target) {
			c.log.Debug().Str("release", e.Title).Msg("cached release matches")
			return true, nil
		}
	}
	return false, nil
}

// claimFromBoxes walks the result cards in page order and claims the
// first matching one whose add sticks.
func (c *Confirmer) claimFromBoxes(ctx context.Context, m Media, target title.Target) (Verdict, error) {
	if !c.session.WaitVisible(ctx, selResultBox, c.cfg.ResultTimeout).Found() {
		return NotFound, nil
	}

	html, err := c.session.Content(ctx)
	if err != nil {
		return Rejected, err
	}
	boxes, err := parseResultBoxes(html)
	if err != nil {
		return Rejected, err
	}
	if len(boxes) == 0 {
		return NotFound, nil
	}

	wantPack := target.Season > 0 && target.Episode == 0
	for _, box := range boxes {
		if wantPack && box.SingleFile {
			c.log.Debug().Str("release", box.Title).Msg("single-file release skipped")
			continue
		}
		if !c.matcher.Matches(box.Title, m.request(), target) {
			continue
		}
		if c.claimBox(ctx, box) {
			c.log.Info().Str("release", box.Title).Msg("release confirmed")
			return Confirmed, nil
		}
	}
	return Rejected, nil
}

// claimBox clicks the box's add button, preferring the instant option,
// and verifies the readback. A readback of RD (0%) means the add did
// not produce a cached torrent; the click is undone so the entry does
// not linger half-added.
func (c *Confirmer) claimBox(ctx context.Context, box resultBox) bool {
	boxSel := fmt.Sprintf("%s >> nth=%d", selResultBox, box.Index)

	clicked := false
	if box.HasInstant {
		clicked = c.clickWithRetry(ctx, boxSel+" >> "+selInstant)
	}
	if !clicked && box.HasDL {
		clicked = c.clickWithRetry(ctx, boxSel+" >> "+selDLWithRD)
	}
	if !clicked {
		return false
	}

	rdSel := boxSel + " >> " + selRDStatus
	if !c.session.WaitVisible(ctx, rdSel, c.cfg.ResultTimeout).Found() {
		return false
	}
	text := c.session.TextAt(ctx, rdSel, 0)
	if !text.Found() {
		return false
	}

	if strings.Contains(text.Value, rdUncached) {
		c.log.Warn().Str("release", box.Title).Msg("add produced an uncached torrent, undoing")
		c.session.ClickAt(ctx, rdSel, 0)
		return false
	}
	return strings.Contains(text.Value, rdConfirmed)
}

// clickWithRetry clicks a selector, retrying once. The page re-renders
// cards while availability results stream in, which can detach the
// element between lookup and click.
func (c *Confirmer) clickWithRetry(ctx context.Context, selector string) bool {
	if c.session.ClickAt(ctx, selector, 0).Found() {
		return true
	}
	time.Sleep(500 * time.Millisecond)
	return c.session.ClickAt(ctx, selector, 0).Found()
}

// applyEpisodeFilter narrows the page's torrent filter to a single
// episode and expands the result list.
func (c *Confirmer) applyEpisodeFilter(ctx context.Context, episodeCode string) error {
	filter := strings.TrimSpace(c.cfg.FilterRegex + " " + episodeCode)
	if err := c.session.Fill(ctx, selFilterInput, filter); err != nil {
		return err
	}
	if err := c.session.Press(ctx, selFilterInput, "Enter"); err != nil {
		return err
	}

	// The list renders a page at a time. Two expansions cover the
	// depths episode releases are found at in practice.
	for i := 0; i < 2; i++ {
		if !c.session.ClickAt(ctx, selShowMore, 0).Found() {
			break
		}
	}
	return nil
}

// resetFilter restores the default torrent filter after an episode
// pass so the next run starts from the configured baseline.
func (c *Confirmer) resetFilter(ctx context.Context) {
	if err := c.session.Fill(ctx, selFilterInput, c.cfg.FilterRegex); err != nil {
		c.log.Warn().Err(err).Msg("filter reset failed")
		return
	}
	c.session.Press(ctx, selFilterInput, "Enter")
}
