// Package debrid manages the debrid service OAuth credentials: keeping
// the access token fresh, persisting it encrypted, and pushing it into
// the browser session.
package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bridgearr/bridgearr/internal/config"
	"github.com/bridgearr/bridgearr/internal/crypto"
	"github.com/bridgearr/bridgearr/internal/database"
)

// deviceGrantType is the grant the debrid service issues device
// credentials under.
const deviceGrantType = "http://oauth.net/grant_type/device/1.0"

// refreshLookahead refreshes tokens that expire within this window
// rather than waiting for them to lapse mid-run.
const refreshLookahead = 10 * time.Minute

// accessTokenTTL is how long a freshly issued access token is trusted.
const accessTokenTTL = 24 * time.Hour

// ErrNeedsSetup is returned when the refresh token itself was rejected
// and only new credentials from the user can recover the service.
var ErrNeedsSetup = errors.New("debrid credentials rejected, manual setup required")

// Credential is the persisted access token alongside its expiry in
// Unix milliseconds. The format matches what the debrid manager web
// app stores in localStorage.
type Credential struct {
	Value  string `json:"value"`
	Expiry int64  `json:"expiry"`
}

// SessionUpdater is the slice of the browser session the refresher
// pushes fresh credentials into. The flow lock keeps the injection and
// reload from landing in the middle of a confirmation run.
type SessionUpdater interface {
	Acquire()
	Release()
	SetLocalStorage(ctx context.Context, key, value string) error
	Reload(ctx context.Context) error
}

// TokenRefresher keeps the debrid access token valid.
type TokenRefresher struct {
	cfg        config.DebridConfig
	db         *database.DB
	secrets    *crypto.SecretStore
	httpClient *http.Client
	session    SessionUpdater
	log        zerolog.Logger
	now        func() time.Time

	needsSetup atomic.Bool
}

// NewTokenRefresher creates a refresher. secrets may be nil, in which
// case tokens are stored unencrypted.
func NewTokenRefresher(cfg config.DebridConfig, db *database.DB, secrets *crypto.SecretStore, log zerolog.Logger) *TokenRefresher {
	return &TokenRefresher{
		cfg:        cfg,
		db:         db,
		secrets:    secrets,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "debrid").Logger(),
		now:        time.Now,
	}
}

// AttachSession registers the browser session that should receive
// refreshed credentials.
func (r *TokenRefresher) AttachSession(s SessionUpdater) {
	r.session = s
}

// NeedsSetup reports whether the refresher has given up on the stored
// refresh token. Once set it stays set until new credentials arrive.
func (r *TokenRefresher) NeedsSetup() bool {
	return r.needsSetup.Load()
}

// EnsureValid checks the stored access token and refreshes it when it
// is corrupted, missing, or inside the expiry lookahead window.
func (r *TokenRefresher) EnsureValid(ctx context.Context) error {
	if r.needsSetup.Load() {
		return ErrNeedsSetup
	}

	cred, ok := r.storedCredential(ctx)
	if !ok {
		r.log.Info().Msg("no usable access token stored, refreshing")
		return r.Refresh(ctx)
	}

	remaining := time.Duration(cred.Expiry-r.now().UnixMilli()) * time.Millisecond
	if remaining <= refreshLookahead {
		r.log.Info().Dur("remaining", remaining).Msg("access token near expiry, refreshing")
		return r.Refresh(ctx)
	}

	r.log.Debug().Time("expires", time.UnixMilli(cred.Expiry)).Msg("access token still valid")
	return nil
}

// storedCredential loads and validates the persisted access token.
func (r *TokenRefresher) storedCredential(ctx context.Context) (Credential, bool) {
	raw, err := r.db.GetSetting(ctx, database.SettingAccessToken)
	if err != nil {
		return Credential{}, false
	}
	if r.secrets != nil {
		if raw, err = r.secrets.Decrypt(raw); err != nil {
			r.log.Warn().Err(err).Msg("stored access token failed to decrypt, discarding")
			r.clearStored(ctx)
			return Credential{}, false
		}
	}

	if isCorrupted(raw) {
		r.log.Warn().Msg("stored access token is corrupted, discarding")
		r.clearStored(ctx)
		return Credential{}, false
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil || cred.Value == "" || cred.Expiry == 0 {
		r.log.Warn().Msg("stored access token is malformed, discarding")
		r.clearStored(ctx)
		return Credential{}, false
	}
	return cred, true
}

func (r *TokenRefresher) clearStored(ctx context.Context) {
	if err := r.db.DeleteSetting(ctx, database.SettingAccessToken); err != nil {
		r.log.Warn().Err(err).Msg("failed to clear stored token")
	}
}

// isCorrupted flags token strings that cannot be a credential: too
// short, mostly masked out, or with no JSON structure at all.
func isCorrupted(s string) bool {
	if len(s) < 10 {
		return true
	}
	if strings.Count(s, "*")*2 > len(s) {
		return true
	}
	return !strings.Contains(s, "{")
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
}

// Refresh exchanges the refresh token for a new access token, persists
// it, and pushes it into the attached browser session. The device
// grant is tried first; some accounts only accept the plain
// refresh_token grant, which is retried on the corresponding error.
func (r *TokenRefresher) Refresh(ctx context.Context) error {
	refreshToken := r.refreshToken(ctx)
	if r.cfg.ClientID == "" || r.cfg.ClientSecret == "" || refreshToken == "" {
		r.enterSetupMode(ctx)
		return fmt.Errorf("%w: missing client credentials", ErrNeedsSetup)
	}

	form := url.Values{
		"client_id":     {r.cfg.ClientID},
		"client_secret": {r.cfg.ClientSecret},
		"code":          {refreshToken},
		"grant_type":    {deviceGrantType},
	}

	resp, err := r.postToken(ctx, form)
	if err != nil {
		return err
	}
	if resp.AccessToken == "" && resp.ErrorCode == 2 {
		r.log.Info().Msg("device grant rejected, retrying with refresh_token grant")
		form = url.Values{
			"client_id":     {r.cfg.ClientID},
			"client_secret": {r.cfg.ClientSecret},
			"refresh_token": {refreshToken},
			"grant_type":    {"refresh_token"},
		}
		if resp, err = r.postToken(ctx, form); err != nil {
			return err
		}
	}

	if resp.AccessToken == "" {
		if resp.Error == "invalid_grant" {
			r.enterSetupMode(ctx)
			return ErrNeedsSetup
		}
		return fmt.Errorf("token refresh failed: %s (code %d)", resp.Error, resp.ErrorCode)
	}

	cred := Credential{
		Value:  resp.AccessToken,
		Expiry: r.now().Add(accessTokenTTL).UnixMilli(),
	}
	if err := r.store(ctx, cred, resp.RefreshToken); err != nil {
		return err
	}

	r.log.Info().Time("expires", time.UnixMilli(cred.Expiry)).Msg("access token refreshed")
	return r.push(ctx, cred)
}

func (r *TokenRefresher) postToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &body, nil
}

// refreshToken prefers a refresh token persisted from an earlier
// rotation over the configured one.
func (r *TokenRefresher) refreshToken(ctx context.Context) string {
	stored, err := r.db.GetSetting(ctx, database.SettingRefreshToken)
	if err == nil && stored != "" {
		if r.secrets != nil {
			if dec, derr := r.secrets.Decrypt(stored); derr == nil {
				return dec
			}
		} else {
			return stored
		}
	}
	return r.cfg.RefreshToken
}

func (r *TokenRefresher) store(ctx context.Context, cred Credential, newRefreshToken string) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}

	value := string(raw)
	if r.secrets != nil {
		if value, err = r.secrets.Encrypt(value); err != nil {
			return fmt.Errorf("encrypting credential: %w", err)
		}
	}
	if err := r.db.SetSetting(ctx, database.SettingAccessToken, value); err != nil {
		return err
	}

	if newRefreshToken != "" {
		value = newRefreshToken
		if r.secrets != nil {
			if value, err = r.secrets.Encrypt(value); err != nil {
				return fmt.Errorf("encrypting refresh token: %w", err)
			}
		}
		if err := r.db.SetSetting(ctx, database.SettingRefreshToken, value); err != nil {
			return err
		}
		r.log.Info().Msg("rotated refresh token persisted")
	}

	return r.db.SetSetting(ctx, database.SettingNeedsSetup, "false")
}

// BrowserCredentials returns the localStorage entries that log the web
// app in, built from the stored credential. It reports false when no
// usable credential is stored.
func (r *TokenRefresher) BrowserCredentials(ctx context.Context) (map[string]string, bool) {
	cred, ok := r.storedCredential(ctx)
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return nil, false
	}
	return map[string]string{
		"rd:accessToken":  string(raw),
		"rd:clientId":     r.cfg.ClientID,
		"rd:clientSecret": r.cfg.ClientSecret,
		"rd:refreshToken": r.refreshToken(ctx),
	}, true
}

// push writes the credential into the browser's localStorage the way
// the web app itself would, then reloads so the app picks it up. The
// flow lock is held so the reload waits out any confirmation run in
// progress.
func (r *TokenRefresher) push(ctx context.Context, cred Credential) error {
	if r.session == nil {
		return nil
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	r.session.Acquire()
	defer r.session.Release()

	if err := r.session.SetLocalStorage(ctx, "rd:accessToken", string(raw)); err != nil {
		return fmt.Errorf("updating browser credentials: %w", err)
	}
	if err := r.session.SetLocalStorage(ctx, "rd:clientId", r.cfg.ClientID); err != nil {
		return err
	}
	if err := r.session.SetLocalStorage(ctx, "rd:clientSecret", r.cfg.ClientSecret); err != nil {
		return err
	}
	if err := r.session.SetLocalStorage(ctx, "rd:refreshToken", r.refreshToken(ctx)); err != nil {
		return err
	}
	return r.session.Reload(ctx)
}

// enterSetupMode records that automated refresh cannot recover. New
// requests are refused until the operator supplies fresh credentials.
func (r *TokenRefresher) enterSetupMode(ctx context.Context) {
	r.needsSetup.Store(true)
	if err := r.db.SetSetting(ctx, database.SettingNeedsSetup, "true"); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist setup flag")
	}
	r.log.Error().Msg("debrid credentials invalid, entering setup mode")
}
