package browser

import (
	"context"
	"time"
)

// Session is the surface the confirmation engine needs from a live
// browser. The production implementation is WebSession; tests use an
// in-memory fake.
type Session interface {
	// Acquire takes the flow lock. A multi-step flow (confirmation
	// run, credential push) holds it for its whole duration so another
	// flow cannot navigate the shared page out from under it.
	Acquire()
	// Release returns the flow lock.
	Release()
	// Navigate loads a URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Reload re-navigates to the current URL.
	Reload(ctx context.Context) error
	// WaitVisible blocks until a selector is visible or the timeout
	// elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}]
	// WaitHidden blocks until a selector is hidden or detached, or the
	// timeout elapses.
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}]
	// Content returns the full page HTML.
	Content(ctx context.Context) (string, error)
	// TextAt returns the inner text of the index-th match.
	TextAt(ctx context.Context, selector string, index int) Outcome[string]
	// ClickAt clicks the index-th match.
	ClickAt(ctx context.Context, selector string, index int) Outcome[struct{}]
	// Fill sets the value of an input element.
	Fill(ctx context.Context, selector, value string) error
	// Press sends a key press to an element.
	Press(ctx context.Context, selector, key string) error
	// SetLocalStorage writes a key into the page's local storage.
	SetLocalStorage(ctx context.Context, key, value string) error
	// URL returns the current page URL, or empty when no page is open.
	URL() string
}
