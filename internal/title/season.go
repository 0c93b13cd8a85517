package title

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	seasonRangeRe = regexp.MustCompile(`(?i)\b(?:s|(?:season|temporada|saison)[\s.]*)(\d{1,2})\s*[-–~]\s*s?(\d{1,2})\b`)
	seasonWordRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bseason[\s.]*(\d{1,2})\b`),
		regexp.MustCompile(`(?i)\btemporada[\s.]*(\d{1,2})\b`),
		regexp.MustCompile(`(?i)\bsaison[\s.]*(\d{1,2})\b`),
	}
	seasonCodeRe  = regexp.MustCompile(`(?i)\bs(\d{1,2})\b`)
	episodeCodeRe = regexp.MustCompile(`(?i)\bs(\d{1,2})[\s.]?e(\d{1,3})\b`)
	bareEpisodeRe = regexp.MustCompile(`(?i)\be(\d{1,3})\b`)
)

// EpisodeCode formats a season/episode pair as the conventional
// zero-padded marker, e.g. S02E05.
func EpisodeCode(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}

// prepared returns the title with word delimiters unified so the
// season regexes see consistent boundaries.
func seasonSearchText(title string) string {
	t := strings.ReplaceAll(title, ".", " ")
	t = strings.ReplaceAll(t, "_", " ")
	return t
}

// ContainsSeason reports whether a release title refers to the given
// season. Explicit markers ("Season 4", "S04", "Temporada 4") match
// directly; season ranges ("S01-S10") match any season inside the
// range inclusively. An episode code for a different season (S02E05
// when season 4 is wanted) never counts as a marker for season 4.
func ContainsSeason(title string, season int) bool {
	text := seasonSearchText(title)

	for _, m := range seasonRangeRe.FindAllStringSubmatch(text, -1) {
		lo, err1 := strconv.Atoi(m[1])
		hi, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if season >= lo && season <= hi {
			return true
		}
	}

	for _, re := range seasonWordRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n == season {
				return true
			}
		}
	}

	// Strip episode codes before scanning bare SNN markers so the S02
	// inside S02E05 is not read as a season-2 pack marker.
	stripped := episodeCodeRe.ReplaceAllString(text, " ")
	for _, m := range seasonCodeRe.FindAllStringSubmatch(stripped, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n == season {
			return true
		}
	}

	return false
}

// ContainsEpisode reports whether a release title refers to the given
// episode of the given season. A full SxxEyy code must match both
// numbers. A bare Eyy marker counts only when the title also carries a
// marker for the wanted season; codes that name a different season
// disqualify the title.
func ContainsEpisode(title string, season, episode int) bool {
	text := seasonSearchText(title)

	codes := episodeCodeRe.FindAllStringSubmatch(text, -1)
	if len(codes) > 0 {
		for _, m := range codes {
			s, err1 := strconv.Atoi(m[1])
			e, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil {
				continue
			}
			if s == season && e == episode {
				return true
			}
		}
		return false
	}

	if !ContainsSeason(title, season) {
		return false
	}
	for _, m := range bareEpisodeRe.FindAllStringSubmatch(text, -1) {
		if e, err := strconv.Atoi(m[1]); err == nil && e == episode {
			return true
		}
	}
	return false
}

// IsSeasonPack reports whether a title names a season (or season
// range) without naming a specific episode.
func IsSeasonPack(title string, season int) bool {
	if episodeCodeRe.MatchString(seasonSearchText(title)) {
		return false
	}
	return ContainsSeason(title, season)
}
