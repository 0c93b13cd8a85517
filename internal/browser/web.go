package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// Config controls the managed browser process.
type Config struct {
	Headless   bool
	NavTimeout time.Duration
	OpTimeout  time.Duration
	// InstallDriver downloads the browser driver on startup when it is
	// missing. Disabled in environments that preinstall it.
	InstallDriver bool

	// AppURL is the debrid manager front page opened on startup. Empty
	// skips the whole bootstrap.
	AppURL string
	// MaxMovieSizeGB and MaxEpisodeSizeGB are the size caps selected in
	// the app's settings panel on startup.
	MaxMovieSizeGB   string
	MaxEpisodeSizeGB string
	// DefaultFilter is written into the app's default torrents filter.
	DefaultFilter string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		NavTimeout:    30 * time.Second,
		OpTimeout:     10 * time.Second,
		InstallDriver: true,
	}
}

// Bootstrap selectors for the debrid manager UI.
const (
	selLoginButton    = "button:has-text('Login with Real Debrid')"
	selSettingsLink   = "span:has-text('⚙️ Settings')"
	selMovieMaxSize   = "#dmm-movie-max-size"
	selEpisodeMaxSize = "#dmm-episode-max-size"
	selDefaultFilter  = "#dmm-default-torrents-filter"
)

// CredentialSource supplies the client-side storage entries that log
// the web app in.
type CredentialSource interface {
	BrowserCredentials(ctx context.Context) (map[string]string, bool)
}

// WebSession is the playwright-backed Session. Individual operations
// are serialized on an internal mutex; multi-step flows additionally
// hold the flow lock via Acquire/Release. The session owns exactly one
// page.
type WebSession struct {
	flowMu sync.Mutex
	mu     sync.Mutex
	cfg    Config
	log    zerolog.Logger
	creds  CredentialSource

	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// NewWebSession creates an unstarted session.
func NewWebSession(cfg Config, log zerolog.Logger) *WebSession {
	return &WebSession{cfg: cfg, log: log.With().Str("component", "browser").Logger()}
}

// SetCredentials registers the source of login credentials injected on
// every start and restart.
func (s *WebSession) SetCredentials(src CredentialSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = src
}

// Acquire takes the flow lock.
func (s *WebSession) Acquire() { s.flowMu.Lock() }

// Release returns the flow lock.
func (s *WebSession) Release() { s.flowMu.Unlock() }

// Start launches the browser process, opens the page, and logs the web
// app in with the stored credential.
func (s *WebSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *WebSession) startLocked(ctx context.Context) error {
	if s.page != nil && !s.page.IsClosed() {
		return nil
	}

	if s.cfg.InstallDriver {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			s.log.Warn().Err(err).Msg("playwright install failed, continuing with existing driver")
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
		},
	})
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launching chromium: %w", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("opening page: %w", err)
	}
	page.SetDefaultTimeout(float64(s.cfg.OpTimeout.Milliseconds()))

	s.pw = pw
	s.browser = browser
	s.page = page
	s.log.Info().Bool("headless", s.cfg.Headless).Msg("browser session started")

	s.bootstrapLocked(ctx)
	return nil
}

// bootstrapLocked opens the app, injects the stored credential, clicks
// through the login button, and applies the size caps and default
// filter in the settings panel. Failures are logged and skipped; the
// session itself stays usable.
func (s *WebSession) bootstrapLocked(ctx context.Context) {
	if s.cfg.AppURL == "" {
		return
	}

	if _, err := s.page.Goto(s.cfg.AppURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.cfg.NavTimeout.Milliseconds())),
	}); err != nil {
		s.log.Warn().Err(err).Msg("bootstrap navigation failed")
		return
	}

	if s.creds != nil {
		if kv, ok := s.creds.BrowserCredentials(ctx); ok {
			for key, value := range kv {
				if _, err := s.page.Evaluate(
					"([key, value]) => window.localStorage.setItem(key, value)",
					[]string{key, value},
				); err != nil {
					s.log.Warn().Err(err).Str("key", key).Msg("credential injection failed")
				}
			}
			if _, err := s.page.Reload(playwright.PageReloadOptions{
				Timeout: playwright.Float(float64(s.cfg.NavTimeout.Milliseconds())),
			}); err != nil {
				s.log.Warn().Err(err).Msg("reload after credential injection failed")
			}
			s.log.Info().Msg("stored credential injected into browser")
		} else {
			s.log.Warn().Msg("no stored credential available at browser start")
		}
	}

	// The login button only renders when the app did not pick the
	// credential up by itself.
	login := s.page.Locator(selLoginButton)
	if visible, err := login.First().IsVisible(); err == nil && visible {
		if err := login.First().Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
		}); err != nil {
			s.log.Warn().Err(err).Msg("login click failed")
		} else {
			s.log.Info().Msg("clicked login button")
		}
	}

	s.applySettingsLocked()
}

// applySettingsLocked opens the settings panel and applies the size
// caps and the default torrents filter, then closes the panel again to
// persist them.
func (s *WebSession) applySettingsLocked() {
	settings := s.page.Locator(selSettingsLink).First()
	if err := settings.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
	}); err != nil {
		s.log.Warn().Err(err).Msg("settings panel did not open, skipping setup")
		return
	}

	if s.cfg.MaxMovieSizeGB != "" {
		if _, err := s.page.Locator(selMovieMaxSize).SelectOption(playwright.SelectOptionValues{
			Values: &[]string{s.cfg.MaxMovieSizeGB},
		}); err != nil {
			s.log.Warn().Err(err).Msg("max movie size not applied")
		}
	}
	if s.cfg.MaxEpisodeSizeGB != "" {
		if _, err := s.page.Locator(selEpisodeMaxSize).SelectOption(playwright.SelectOptionValues{
			Values: &[]string{s.cfg.MaxEpisodeSizeGB},
		}); err != nil {
			s.log.Warn().Err(err).Msg("max episode size not applied")
		}
	}
	if s.cfg.DefaultFilter != "" {
		if err := s.page.Locator(selDefaultFilter).Fill(s.cfg.DefaultFilter); err != nil {
			s.log.Warn().Err(err).Msg("default torrents filter not applied")
		}
	}

	if err := settings.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
	}); err != nil {
		s.log.Warn().Err(err).Msg("settings panel did not close")
	}
	s.log.Info().
		Str("movie_max_gb", s.cfg.MaxMovieSizeGB).
		Str("episode_max_gb", s.cfg.MaxEpisodeSizeGB).
		Msg("app settings applied")
}

// Stop closes the page and tears down the browser process.
func (s *WebSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *WebSession) stopLocked() {
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.pw != nil {
		s.pw.Stop()
		s.pw = nil
	}
}

// EnsureAlive restarts the browser if the page has died. Crashed
// renderers must not take the whole service down with them.
func (s *WebSession) EnsureAlive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil && !s.page.IsClosed() {
		if _, err := s.page.Evaluate("1"); err == nil {
			return nil
		}
	}

	s.log.Warn().Msg("browser session dead, restarting")
	s.stopLocked()
	return s.startLocked(ctx)
}

func (s *WebSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return errors.New("browser session not started")
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.cfg.NavTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (s *WebSession) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return errors.New("browser session not started")
	}
	_, err := s.page.Reload(playwright.PageReloadOptions{
		Timeout: playwright.Float(float64(s.cfg.NavTimeout.Milliseconds())),
	})
	return err
}

func (s *WebSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Expired[struct{}](errors.New("browser session not started"))
	}

	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return Expired[struct{}](err)
	}
	return Hit(struct{}{})
}

func (s *WebSession) WaitHidden(ctx context.Context, selector string, timeout time.Duration) Outcome[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Expired[struct{}](errors.New("browser session not started"))
	}

	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateHidden,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return Expired[struct{}](err)
	}
	return Hit(struct{}{})
}

func (s *WebSession) Content(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return "", errors.New("browser session not started")
	}
	return s.page.Content()
}

func (s *WebSession) TextAt(ctx context.Context, selector string, index int) Outcome[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Expired[string](errors.New("browser session not started"))
	}

	loc := s.page.Locator(selector)
	count, err := loc.Count()
	if err != nil {
		return Expired[string](err)
	}
	if index >= count {
		return Miss[string]()
	}

	text, err := loc.Nth(index).InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return Expired[string](err)
		}
		return Miss[string]()
	}
	return Hit(strings.TrimSpace(text))
}

func (s *WebSession) ClickAt(ctx context.Context, selector string, index int) Outcome[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Expired[struct{}](errors.New("browser session not started"))
	}

	loc := s.page.Locator(selector)
	count, err := loc.Count()
	if err != nil {
		return Expired[struct{}](err)
	}
	if index >= count {
		return Miss[struct{}]()
	}

	err = loc.Nth(index).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(s.cfg.OpTimeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return Expired[struct{}](err)
		}
		return Miss[struct{}]()
	}
	return Hit(struct{}{})
}

func (s *WebSession) Fill(ctx context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return errors.New("browser session not started")
	}
	return s.page.Locator(selector).First().Fill(value)
}

func (s *WebSession) Press(ctx context.Context, selector, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return errors.New("browser session not started")
	}
	return s.page.Locator(selector).First().Press(key)
}

func (s *WebSession) SetLocalStorage(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return errors.New("browser session not started")
	}
	_, err := s.page.Evaluate(
		"([key, value]) => window.localStorage.setItem(key, value)",
		[]string{key, value},
	)
	return err
}

func (s *WebSession) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return ""
	}
	return s.page.URL()
}

func isTimeout(err error) bool {
	if errors.Is(err, playwright.ErrTimeout) {
		return true
	}
	return strings.Contains(err.Error(), "Timeout")
}
