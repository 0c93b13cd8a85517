package browser

import (
	"context"
	"sync"
	"time"
)

// FakeElement is one element a FakeSession serves for a selector.
// OnClick mutates the session, modelling the page reacting to the
// click.
type FakeElement struct {
	Text    string
	OnClick func()
}

// FakeSession is a scripted Session for tests. Selectors resolve
// against the Elements map; waits resolve immediately based on element
// presence instead of sleeping.
type FakeSession struct {
	flowMu sync.Mutex
	mu     sync.Mutex

	HTML     string
	Elements map[string][]*FakeElement

	NavigateErr error

	CurrentURL string
	Navigated  []string
	Filled     map[string]string
	Pressed    []string
	Storage    map[string]string
}

// NewFakeSession returns an empty fake.
func NewFakeSession() *FakeSession {
	return &FakeSession{
		Elements: make(map[string][]*FakeElement),
		Filled:   make(map[string]string),
		Storage:  make(map[string]string),
	}
}

// SetElements replaces the elements served for a selector.
func (f *FakeSession) SetElements(selector string, els ...*FakeElement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Elements[selector] = els
}

// SetHTML replaces the page content served by Content.
func (f *FakeSession) SetHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HTML = html
}

func (f *FakeSession) Acquire() { f.flowMu.Lock() }

func (f *FakeSession) Release() { f.flowMu.Unlock() }

func (f *FakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.CurrentURL = url
	f.Navigated = append(f.Navigated, url)
	return nil
}

func (f *FakeSession) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Navigated = append(f.Navigated, f.CurrentURL)
	return nil
}

func (f *FakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Elements[selector]) > 0 {
		return Hit(struct{}{})
	}
	return Expired[struct{}](context.DeadlineExceeded)
}

func (f *FakeSession) WaitHidden(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Elements[selector]) == 0 {
		return Hit(struct{}{})
	}
	return Expired[struct{}](context.DeadlineExceeded)
}

func (f *FakeSession) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HTML, nil
}

func (f *FakeSession) TextAt(ctx context.Context, selector string, index int) Outcome[string] {
	f.mu.Lock()
	defer f.mu.Unlock()
	els := f.Elements[selector]
	if index >= len(els) {
		return Miss[string]()
	}
	return Hit(els[index].Text)
}

func (f *FakeSession) ClickAt(ctx context.Context, selector string, index int) Outcome[struct{}] {
	f.mu.Lock()
	els := f.Elements[selector]
	if index >= len(els) {
		f.mu.Unlock()
		return Miss[struct{}]()
	}
	onClick := els[index].OnClick
	f.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return Hit(struct{}{})
}

func (f *FakeSession) Fill(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Filled[selector] = value
	return nil
}

func (f *FakeSession) Press(ctx context.Context, selector, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pressed = append(f.Pressed, selector+":"+key)
	return nil
}

func (f *FakeSession) SetLocalStorage(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Storage[key] = value
	return nil
}

func (f *FakeSession) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CurrentURL
}
