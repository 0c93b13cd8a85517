package title

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Thresholds holds the similarity cutoffs, in percent, used at the
// different stages of a confirmation run.
type Thresholds struct {
	// Search applies when scoring fresh search result blocks.
	Search int
	// Cached applies when re-reading titles the service already
	// reports as fully cached. Those titles render truncated, so the
	// bar is lower.
	Cached int
	// SingleWord applies when the requested title collapses to a
	// single token after normalization.
	SingleWord int
}

// DefaultThresholds mirrors the configuration defaults.
var DefaultThresholds = Thresholds{Search: 75, Cached: 65, SingleWord: 60}

// MediaType distinguishes movie from show requests.
type MediaType string

const (
	Movie MediaType = "movie"
	TV    MediaType = "tv"
)

// Request carries the normalized identity of the content being
// confirmed.
type Request struct {
	Title     string
	Year      int
	MediaType MediaType
}

// Target narrows a match to a season pack or a single episode. Zero
// values mean whole-title (movie) matching.
type Target struct {
	Season  int
	Episode int
	// Cached selects the lower cached-readback threshold.
	Cached bool
}

// Matcher scores candidate release titles against a request.
type Matcher struct {
	norm       *Normalizer
	thresholds Thresholds
}

// NewMatcher builds a Matcher. Zero thresholds fall back to the
// defaults.
func NewMatcher(norm *Normalizer, t Thresholds) *Matcher {
	if t.Search == 0 {
		t.Search = DefaultThresholds.Search
	}
	if t.Cached == 0 {
		t.Cached = DefaultThresholds.Cached
	}
	if t.SingleWord == 0 {
		t.SingleWord = DefaultThresholds.SingleWord
	}
	if norm == nil {
		norm = NewNormalizer(nil)
	}
	return &Matcher{norm: norm, thresholds: t}
}

// Ratio is the plain similarity of two strings in percent, derived
// from their Levenshtein distance.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 100
	}
	d := fuzzy.LevenshteinDistance(a, b)
	return (longest - d) * 100 / longest
}

// PartialRatio is the best Ratio of the shorter string against every
// equal-length window of the longer one. It rewards a requested title
// appearing anywhere inside a long release name.
func PartialRatio(a, b string) int {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 0
	}
	if len(shorter) == len(longer) {
		return Ratio(shorter, longer)
	}

	best := 0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		if r := Ratio(shorter, longer[i:i+len(shorter)]); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

// Score returns the similarity between a candidate release title and
// the request title, taking the best score across digit/word numeral
// variants of both sides.
func (m *Matcher) Score(candidate string, req Request) int {
	candNorm := m.norm.Normalize(candidate)
	reqNorm := m.norm.Normalize(req.Title)

	best := PartialRatio(candNorm, reqNorm)
	if v := PartialRatio(NumbersToWords(candNorm), NumbersToWords(reqNorm)); v > best {
		best = v
	}
	if v := PartialRatio(WordsToNumbers(candNorm), WordsToNumbers(reqNorm)); v > best {
		best = v
	}
	return best
}

// Matches decides whether a candidate release title satisfies the
// request for the given target.
func (m *Matcher) Matches(candidate string, req Request, target Target) bool {
	reqNorm := m.norm.Normalize(req.Title)
	singleWord := !strings.Contains(reqNorm, ".")

	threshold := m.thresholds.Search
	if target.Cached {
		threshold = m.thresholds.Cached
	}

	if singleWord {
		if !m.matchesSingleWord(candidate, reqNorm) {
			return false
		}
	} else if m.Score(candidate, req) < threshold {
		return false
	}

	if req.MediaType == Movie || target.Season == 0 {
		return m.yearCompatible(candidate, req)
	}

	if target.Episode > 0 {
		return ContainsEpisode(candidate, target.Season, target.Episode)
	}
	return IsSeasonPack(candidate, target.Season)
}

// matchesSingleWord applies the stricter single-token rule: the word
// must lead the candidate or the whole-string similarity must clear
// the single-word threshold. Partial ratio alone is too permissive
// when the needle is one short word.
func (m *Matcher) matchesSingleWord(candidate, reqNorm string) bool {
	candNorm := m.norm.Normalize(candidate)
	if candNorm == reqNorm {
		return true
	}
	if strings.HasPrefix(candNorm, reqNorm+".") {
		return true
	}
	return Ratio(candNorm, reqNorm) >= m.thresholds.SingleWord
}

// yearCompatible enforces the release-year rule for movies: when both
// the candidate and the request carry a year they must agree within
// one year. A candidate without a detectable year is not rejected.
func (m *Matcher) yearCompatible(candidate string, req Request) bool {
	if req.Year == 0 {
		return true
	}
	candYear := ExtractYear(candidate, 0, true)
	if candYear == 0 {
		return true
	}
	diff := candYear - req.Year
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}
