// Package queue buffers confirmation requests between webhook intake
// and the single browser worker.
package queue

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/confirm"
)

// Item is one queued confirmation request.
type Item struct {
	// ID correlates log lines, audit rows and event broadcasts for
	// one request.
	ID string
	// Media identifies the content to confirm.
	Media confirm.Media
	// MediaID is the fulfillment system's media id, used to mark the
	// request available afterwards.
	MediaID int64
	// Seasons holds the requested season numbers for shows, already
	// normalized. Empty for movies.
	Seasons []int

	EnqueuedAt time.Time
}

// NewItem builds an Item with a fresh correlation id.
func NewItem(media confirm.Media, mediaID int64, seasonNumbers []int) Item {
	return Item{
		ID:         uuid.New().String(),
		Media:      media,
		MediaID:    mediaID,
		Seasons:    seasonNumbers,
		EnqueuedAt: time.Now(),
	}
}

// Queue is a bounded FIFO of confirmation requests.
type Queue struct {
	items chan Item
	log   zerolog.Logger
}

// New creates a queue with the given capacity.
func New(capacity int, log zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 500
	}
	return &Queue{
		items: make(chan Item, capacity),
		log:   log.With().Str("component", "queue").Logger(),
	}
}

// TryEnqueue adds an item without blocking. It returns false when the
// queue is full; the caller decides how to signal the rejection.
func (q *Queue) TryEnqueue(item Item) bool {
	select {
	case q.items <- item:
		q.log.Info().
			Str("request_id", item.ID).
			Str("title", item.Media.Title).
			Int("depth", len(q.items)).
			Msg("request queued")
		return true
	default:
		q.log.Warn().
			Str("title", item.Media.Title).
			Msg("queue full, request dropped")
		return false
	}
}

// Items exposes the receive side for the worker.
func (q *Queue) Items() <-chan Item {
	return q.items
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	return len(q.items)
}

var (
	seasonTokenRe = regexp.MustCompile(`(?i)(?:season\s*)?s?(\d{1,2})`)
	seasonSpanRe  = regexp.MustCompile(`(?i)(?:season\s*)?s?(\d{1,2})\s*-\s*s?(\d{1,2})`)
)

// ParseSeasons normalizes a requested-seasons value from webhook extra
// data. Values arrive as comma-separated lists mixing bare numbers,
// "Season N" tokens and ranges ("3-5", "S03-S05"); ranges expand to
// every season inside them. Duplicates collapse; order is preserved.
func ParseSeasons(value string) []int {
	var (
		out  []int
		seen = make(map[int]struct{})
	)
	add := func(n int) {
		if n < 1 {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := seasonSpanRe.FindStringSubmatch(part); m != nil {
			lo, err1 := strconv.Atoi(m[1])
			hi, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil {
				if lo > hi {
					lo, hi = hi, lo
				}
				for n := lo; n <= hi; n++ {
					add(n)
				}
				continue
			}
		}
		m := seasonTokenRe.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			add(n)
		}
	}
	return out
}
