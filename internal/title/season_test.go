package title

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsSeason(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		season   int
		expected bool
	}{
		{"explicit word", "The Wire Season 4 1080p", 4, true},
		{"padded code", "The.Wire.S04.COMPLETE", 4, true},
		{"unpadded code", "The.Wire.S4.720p", 4, true},
		{"spanish word", "The.Wire.Temporada.4", 4, true},
		{"dotted word", "The.Wire.Season.4.WEB-DL", 4, true},
		{"range covers season", "The.Wire.S01-S10.Complete", 4, true},
		{"range without s prefix", "The.Wire.S01-10", 4, true},
		{"worded range covers season", "The Wire Season 1-4 Complete", 3, true},
		{"worded range boundary", "The Wire Season 1-4 Complete", 4, true},
		{"worded range excludes season", "The Wire Season 1-4 Complete", 5, false},
		{"range excludes season", "The.Wire.S05-S10", 4, false},
		{"different season", "The.Wire.S03.1080p", 4, false},
		{"episode code is not a pack marker", "The.Wire.S02E05", 2, false},
		{"no marker", "The.Wire.Complete.1080p", 4, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ContainsSeason(tc.title, tc.season))
		})
	}
}

func TestContainsEpisode(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		season   int
		episode  int
		expected bool
	}{
		{"exact code", "The.Wire.S04E05.720p", 4, 5, true},
		{"dotted code", "The.Wire.S04.E05", 4, 5, true},
		{"wrong episode", "The.Wire.S04E06", 4, 5, false},
		{"other season same episode", "The.Wire.S03E05", 4, 5, false},
		{"bare episode with season word", "The.Wire.Season.4.E05", 4, 5, true},
		{"bare episode without season", "The.Wire.E05", 4, 5, false},
		{"season pack only", "The.Wire.S04.COMPLETE", 4, 5, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ContainsEpisode(tc.title, tc.season, tc.episode))
		})
	}
}

func TestIsSeasonPack(t *testing.T) {
	assert.True(t, IsSeasonPack("The.Wire.S04.1080p", 4))
	assert.True(t, IsSeasonPack("The.Wire.S01-S10.Complete", 4))
	assert.False(t, IsSeasonPack("The.Wire.S04E05.1080p", 4))
	assert.False(t, IsSeasonPack("The.Wire.S05.1080p", 4))
}

func TestEpisodeCode(t *testing.T) {
	assert.Equal(t, "S02E05", EpisodeCode(2, 5))
	assert.Equal(t, "S11E103", EpisodeCode(11, 103))
}
