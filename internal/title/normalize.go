// Package title implements the text normalization and fuzzy matching
// used to decide whether a debrid search result corresponds to a
// requested movie, season pack, or episode.
package title

import (
	"regexp"
	"strconv"
	"strings"
)

// Translator converts a title to the reference language before
// normalization. Result titles come back in whatever language the
// release was named in, so matching has to be language-agnostic.
type Translator interface {
	Translate(text string) (string, error)
}

// NoopTranslator returns input unchanged. Used when no translation
// backend is configured and in tests.
type NoopTranslator struct{}

func (NoopTranslator) Translate(text string) (string, error) { return text, nil }

var (
	yearDotRe      = regexp.MustCompile(`\.(19\d{2}|20\d{2})(?:\.|$)`)
	yearSpaceRe    = regexp.MustCompile(`(?:^|\s)(19\d{2}|20\d{2})(?:\s|$)`)
	yearTokenRe    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	yearSpanRe     = regexp.MustCompile(`\b(?:19|20)\d{2}\s*-\s*(?:19|20)\d{2}\b`)
	resolutionRe   = regexp.MustCompile(`\b\d{3,4}[pi]\b`)
	techKeywordRe  = regexp.MustCompile(`(?i)[.\s_-](PROPER|REMASTERED|REPACK|EXTENDED|\d{3,4}p|BluRay|Blu-Ray|WEB-DL|WEBDL|WEBRip|HDTV|DVDRip|BDRip|BRRip|REMUX|HEVC|x265|x264|H264|H265|AV1)([.\s_-]|$)`)
	techInsideRe   = regexp.MustCompile(`(?i)(PROPER|REMASTERED|REPACK|EXTENDED|\d{3,4}p|BluRay|REMUX)`)
	trailBracketRe = regexp.MustCompile(`\s*\[[^\]]*\]\s*$`)
	trailParenRe   = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	trailGroupRe   = regexp.MustCompile(`[\s.]*-[0-9]*[A-Za-z][A-Za-z0-9]*$`)
	punctRe        = regexp.MustCompile(`[,:;'’-]`)
	spaceRe        = regexp.MustCompile(`\s+`)
	digitsRe       = regexp.MustCompile(`\b\d+\b`)
)

// Normalizer turns display titles and release names into a canonical
// lower-case dot-delimited form suitable for fuzzy comparison.
type Normalizer struct {
	translator Translator
}

// NewNormalizer creates a Normalizer. A nil translator disables
// translation.
func NewNormalizer(t Translator) *Normalizer {
	if t == nil {
		t = NoopTranslator{}
	}
	return &Normalizer{translator: t}
}

// Normalize applies the full normalization pipeline: translation,
// release-name main-title extraction, technical token stripping,
// punctuation stripping, whitespace collapsing, lowercasing.
func (n *Normalizer) Normalize(text string) string {
	text = strings.ReplaceAll(text, "…", "...")
	text = strings.TrimSpace(text)

	if translated, err := n.translator.Translate(text); err == nil && translated != "" {
		text = translated
	}

	text = ExtractMainTitle(text)

	text = resolutionRe.ReplaceAllString(text, " ")
	text = stripYears(text)

	text = punctRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, ".", " ")
	text = strings.TrimSpace(text)
	text = spaceRe.ReplaceAllString(text, ".")

	return strings.ToLower(text)
}

// stripYears removes bare year and year-range tokens wherever they sit
// in the title. Titles that are nothing but a year ("1917") stay
// intact.
func stripYears(text string) string {
	stripped := yearSpanRe.ReplaceAllString(text, " ")
	stripped = yearTokenRe.ReplaceAllString(stripped, " ")
	if strings.TrimSpace(strings.Trim(stripped, ". ")) == "" {
		return text
	}
	return stripped
}

// looksLikeReleaseName reports whether a title is a delimiter-separated
// release filename rather than a plain display title.
func looksLikeReleaseName(title string) bool {
	if !strings.Contains(title, ".") {
		return false
	}
	return yearTokenRe.MatchString(title) || techInsideRe.MatchString(title)
}

// ExtractMainTitle extracts the title part of a release name, cutting
// before the year or the first technical keyword. Year-anchored
// extraction wins over keyword-anchored, which wins over taking the
// first few dot segments.
func ExtractMainTitle(title string) string {
	main := title

	if looksLikeReleaseName(title) {
		type candidate struct {
			strategy string
			value    string
		}
		var candidates []candidate

		if m := yearDotRe.FindStringIndex(title); m != nil {
			if v := strings.TrimSpace(strings.Trim(title[:m[0]], ". ")); v != "" {
				candidates = append(candidates, candidate{"year", v})
			}
		}
		if m := yearSpaceRe.FindStringIndex(title); m != nil {
			if v := strings.TrimSpace(strings.Trim(title[:m[0]], ". ")); v != "" && v != title {
				candidates = append(candidates, candidate{"year_space", v})
			}
		}
		if m := techKeywordRe.FindStringIndex(title); m != nil {
			if v := strings.TrimSpace(strings.Trim(title[:m[0]], ". ")); v != "" && v != title {
				candidates = append(candidates, candidate{"tech", v})
			}
		}
		if strings.Count(title, ".") >= 3 {
			segments := strings.Split(title, ".")
			for count := 3; count < 6 && count < len(segments); count++ {
				v := strings.Join(segments[:count], ".")
				if !techInsideRe.MatchString(v) {
					candidates = append(candidates, candidate{"segments", v})
					break
				}
			}
		}

		for _, strategy := range []string{"year", "year_space", "tech", "segments"} {
			for _, c := range candidates {
				if c.strategy == strategy {
					main = c.value
					strategy = ""
					break
				}
			}
			if main != title {
				break
			}
		}
	}

	main = trailBracketRe.ReplaceAllString(main, "")
	main = trailParenRe.ReplaceAllString(main, "")
	// Release-group suffixes only exist on dotted release names; a
	// hyphenated display title ("Spider-Man") must keep its last word.
	if strings.Contains(main, ".") {
		main = trailGroupRe.ReplaceAllString(main, "")
	}
	return strings.TrimSpace(main)
}

// ExtractYear returns the release year found in text. A non-zero
// knownYear is authoritative and returned unchanged; otherwise the
// maximum 4-digit token in the 1900-2099 range wins. Returns 0 when no
// year is found.
func ExtractYear(text string, knownYear int, ignoreResolution bool) int {
	if knownYear != 0 {
		return knownYear
	}

	if ignoreResolution {
		text = resolutionRe.ReplaceAllString(text, "")
	}

	best := 0
	for _, match := range yearTokenRe.FindAllString(text, -1) {
		if y, err := strconv.Atoi(match); err == nil && y > best {
			best = y
		}
	}
	return best
}

var wordForDigit = map[string]string{
	"0": "zero", "1": "one", "2": "two", "3": "three", "4": "four",
	"5": "five", "6": "six", "7": "seven", "8": "eight", "9": "nine",
	"10": "ten", "11": "eleven", "12": "twelve", "13": "thirteen",
	"14": "fourteen", "15": "fifteen", "16": "sixteen", "17": "seventeen",
	"18": "eighteen", "19": "nineteen", "20": "twenty",
}

var digitForWord = func() map[string]string {
	m := make(map[string]string, len(wordForDigit))
	for d, w := range wordForDigit {
		m[w] = d
	}
	return m
}()

// NumbersToWords replaces standalone digit tokens with their word
// equivalents ("3" becomes "three"). Numbers above twenty are left
// unchanged.
func NumbersToWords(s string) string {
	return digitsRe.ReplaceAllStringFunc(s, func(d string) string {
		if w, ok := wordForDigit[d]; ok {
			return w
		}
		return d
	})
}

var wordNumberRe = regexp.MustCompile(`(?i)\b(zero|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty)\b`)

// WordsToNumbers replaces number words with digits ("three" becomes
// "3").
func WordsToNumbers(s string) string {
	return wordNumberRe.ReplaceAllStringFunc(s, func(w string) string {
		if d, ok := digitForWord[strings.ToLower(w)]; ok {
			return d
		}
		return w
	})
}
