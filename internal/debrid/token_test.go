package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgearr/bridgearr/internal/config"
	"github.com/bridgearr/bridgearr/internal/database"
	"github.com/bridgearr/bridgearr/internal/testutil"
)

func TestIsCorrupted(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected bool
	}{
		{"valid json credential", `{"value":"abcdef123456","expiry":1700000000000}`, false},
		{"too short", "abc", true},
		{"mostly asterisks", "****************ab", true},
		{"no json structure", "plain-token-value-without-braces", true},
		{"empty", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isCorrupted(tc.value))
		})
	}
}

type fakeSession struct {
	storage  map[string]string
	reloaded int
	held     bool
	acquired int
}

func newFakeSession() *fakeSession {
	return &fakeSession{storage: make(map[string]string)}
}

func (f *fakeSession) Acquire() {
	f.held = true
	f.acquired++
}

func (f *fakeSession) Release() { f.held = false }

func (f *fakeSession) SetLocalStorage(_ context.Context, key, value string) error {
	if !f.held {
		return fmt.Errorf("storage write without flow lock")
	}
	f.storage[key] = value
	return nil
}

func (f *fakeSession) Reload(_ context.Context) error {
	if !f.held {
		return fmt.Errorf("reload without flow lock")
	}
	f.reloaded++
	return nil
}

func newTestRefresher(t *testing.T, handler http.HandlerFunc) (*TokenRefresher, *testutil.TestDB) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	cfg := config.DebridConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	}
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		cfg.TokenURL = server.URL
	}

	return NewTokenRefresher(cfg, tdb.DB, nil, zerolog.Nop()), tdb
}

func TestEnsureValidRefreshesMissingToken(t *testing.T) {
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, deviceGrantType, r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-token", r.Form.Get("code"))
		fmt.Fprint(w, `{"access_token":"fresh-access-token"}`)
	})

	session := newFakeSession()
	refresher.AttachSession(session)

	require.NoError(t, refresher.EnsureValid(context.Background()))

	stored, err := tdb.DB.GetSetting(context.Background(), database.SettingAccessToken)
	require.NoError(t, err)

	var cred Credential
	require.NoError(t, json.Unmarshal([]byte(stored), &cred))
	assert.Equal(t, "fresh-access-token", cred.Value)
	assert.Greater(t, cred.Expiry, time.Now().UnixMilli())

	assert.Contains(t, session.storage["rd:accessToken"], "fresh-access-token")
	assert.Equal(t, "client-id", session.storage["rd:clientId"])
	assert.Equal(t, 1, session.reloaded)
	assert.Equal(t, 1, session.acquired, "the push holds the flow lock exactly once")
}

func TestEnsureValidSkipsFreshToken(t *testing.T) {
	called := false
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		fmt.Fprint(w, `{"access_token":"should-not-happen"}`)
	})

	cred := Credential{Value: "still-good", Expiry: time.Now().Add(2 * time.Hour).UnixMilli()}
	raw, _ := json.Marshal(cred)
	require.NoError(t, tdb.DB.SetSetting(context.Background(), database.SettingAccessToken, string(raw)))

	require.NoError(t, refresher.EnsureValid(context.Background()))
	assert.False(t, called, "a token outside the lookahead window is not refreshed")
}

func TestEnsureValidRefreshesInsideLookahead(t *testing.T) {
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"renewed"}`)
	})

	// Expires in 5 minutes, inside the 10 minute lookahead.
	cred := Credential{Value: "nearly-expired", Expiry: time.Now().Add(5 * time.Minute).UnixMilli()}
	raw, _ := json.Marshal(cred)
	require.NoError(t, tdb.DB.SetSetting(context.Background(), database.SettingAccessToken, string(raw)))

	require.NoError(t, refresher.EnsureValid(context.Background()))

	stored, err := tdb.DB.GetSetting(context.Background(), database.SettingAccessToken)
	require.NoError(t, err)
	assert.Contains(t, stored, "renewed")
}

func TestRefreshFallsBackToRefreshTokenGrant(t *testing.T) {
	var grants []string
	refresher, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grant := r.Form.Get("grant_type")
		grants = append(grants, grant)
		if grant == deviceGrantType {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported","error_code":2}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"via-refresh-grant"}`)
	})

	require.NoError(t, refresher.Refresh(context.Background()))
	assert.Equal(t, []string{deviceGrantType, "refresh_token"}, grants)
}

func TestRefreshInvalidGrantEntersSetupMode(t *testing.T) {
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_code":9}`)
	})

	err := refresher.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNeedsSetup)
	assert.True(t, refresher.NeedsSetup())

	flag, err := tdb.DB.GetSetting(context.Background(), database.SettingNeedsSetup)
	require.NoError(t, err)
	assert.Equal(t, "true", flag)

	// Setup mode is sticky: no further refresh attempts happen.
	assert.ErrorIs(t, refresher.EnsureValid(context.Background()), ErrNeedsSetup)
}

func TestRefreshPersistsRotatedRefreshToken(t *testing.T) {
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		// After rotation the persisted token is used, not the
		// configured one.
		if r.Form.Get("code") == "rotated-refresh" {
			fmt.Fprint(w, `{"access_token":"second"}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"first","refresh_token":"rotated-refresh"}`)
	})

	ctx := context.Background()
	require.NoError(t, refresher.Refresh(ctx))

	stored, err := tdb.DB.GetSetting(ctx, database.SettingRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", stored)

	require.NoError(t, refresher.Refresh(ctx))
	access, err := tdb.DB.GetSetting(ctx, database.SettingAccessToken)
	require.NoError(t, err)
	assert.Contains(t, access, "second")
}

func TestBrowserCredentialsFromStore(t *testing.T) {
	refresher, tdb := newTestRefresher(t, nil)

	ctx := context.Background()
	cred := Credential{Value: "stored-access", Expiry: time.Now().Add(2 * time.Hour).UnixMilli()}
	raw, _ := json.Marshal(cred)
	require.NoError(t, tdb.DB.SetSetting(ctx, database.SettingAccessToken, string(raw)))

	kv, ok := refresher.BrowserCredentials(ctx)
	require.True(t, ok, "a valid stored credential must be available for browser startup")
	assert.Contains(t, kv["rd:accessToken"], "stored-access")
	assert.Equal(t, "client-id", kv["rd:clientId"])
	assert.Equal(t, "client-secret", kv["rd:clientSecret"])
	assert.Equal(t, "refresh-token", kv["rd:refreshToken"])
}

func TestBrowserCredentialsWithoutStoredToken(t *testing.T) {
	refresher, _ := newTestRefresher(t, nil)

	_, ok := refresher.BrowserCredentials(context.Background())
	assert.False(t, ok)
}

func TestBrowserCredentialsRejectCorruptedStore(t *testing.T) {
	refresher, tdb := newTestRefresher(t, nil)

	ctx := context.Background()
	require.NoError(t, tdb.DB.SetSetting(ctx, database.SettingAccessToken, strings.Repeat("*", 40)))

	_, ok := refresher.BrowserCredentials(ctx)
	assert.False(t, ok)
}

func TestCorruptedStoredTokenTriggersRefresh(t *testing.T) {
	refresher, tdb := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"replacement"}`)
	})

	ctx := context.Background()
	require.NoError(t, tdb.DB.SetSetting(ctx, database.SettingAccessToken, strings.Repeat("*", 40)))

	require.NoError(t, refresher.EnsureValid(ctx))

	stored, err := tdb.DB.GetSetting(ctx, database.SettingAccessToken)
	require.NoError(t, err)
	assert.Contains(t, stored, "replacement")
}
