package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/store/memory"
)

const testAnonKey = "anon-key"

func signToken(t *testing.T, email string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type eventLog struct {
	mu     sync.Mutex
	events []backend.AuthEvent
}

func (l *eventLog) record(event backend.AuthEvent, _ *backend.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []backend.AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]backend.AuthEvent(nil), l.events...)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *memory.Store, *eventLog) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != testAnonKey {
			http.Error(w, `{"msg":"missing apikey"}`, http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	st := memory.NewStore()
	client, err := New(Config{
		URL:        srv.URL,
		AnonKey:    testAnonKey,
		StorageKey: "sb-test-auth-token",
		Timeout:    2 * time.Second,
	}, st)
	require.NoError(t, err)

	events := &eventLog{}
	t.Cleanup(client.OnAuthStateChange(events.record))

	return client, st, events
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func persist(t *testing.T, st store.Store, bundle tokenResponse) {
	t.Helper()
	data, err := json.Marshal(bundle)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), "sb-test-auth-token", string(data)))
}

func failOnCall(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestConfig(t *testing.T) {
	cfg := Config{URL: "https://abcd.supabase.co", AnonKey: "k"}
	cfg.ApplyDefaults()

	assert.Equal(t, "sb-abcd-auth-token", cfg.StorageKey)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.RefreshMargin)
	assert.Equal(t, uint(3), cfg.MaxRetries)
	require.NoError(t, cfg.Validate())

	_, err := New(Config{URL: "not a url", AnonKey: "k"}, memory.NewStore())
	require.Error(t, err)

	_, err = New(Config{URL: "https://abcd.supabase.co"}, memory.NewStore())
	require.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)
	access := signToken(t, "ana@example.com", expires)

	client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body["email"])

		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:  access,
			TokenType:    "bearer",
			ExpiresIn:    3600,
			RefreshToken: "refresh-1",
			User:         &backend.User{ID: "user-123", Email: "ana@example.com"},
		})
	}))

	session, err := client.SignInWithPassword(ctx, "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", session.User.Email)
	assert.WithinDuration(t, expires, session.ExpiresAt, 5*time.Second)
	assert.Equal(t, []backend.AuthEvent{backend.EventSignedIn}, events.all())

	raw, err := st.Get(ctx, "sb-test-auth-token")
	require.NoError(t, err)
	assert.Contains(t, raw, "refresh-1")
}

func TestSignInWithPassword_Rejected(t *testing.T) {
	client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	}))

	_, err := client.SignInWithPassword(context.Background(), "ana@example.com", "wrong")
	require.ErrorIs(t, err, backend.ErrAuth)
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.Empty(t, events.all())
	assert.Equal(t, 0, st.Len())
}

func TestGetSession_NoBundle(t *testing.T) {
	client, _, _ := newTestClient(t, failOnCall(t))

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestGetSession_ValidTokenNotRefreshed(t *testing.T) {
	client, st, events := newTestClient(t, failOnCall(t))

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	persist(t, st, tokenResponse{
		AccessToken:  signToken(t, "ana@example.com", expires),
		ExpiresAt:    expires.Unix(),
		RefreshToken: "refresh-1",
		User:         &backend.User{ID: "user-123", Email: "ana@example.com"},
	})

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, expires.Equal(session.ExpiresAt))
	assert.Empty(t, events.all())
}

func TestGetSession_RecoversClaims(t *testing.T) {
	client, st, _ := newTestClient(t, failOnCall(t))

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	persist(t, st, tokenResponse{
		AccessToken:  signToken(t, "ana@example.com", expires),
		RefreshToken: "refresh-1",
	})

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, expires.Equal(session.ExpiresAt))
	assert.Equal(t, "ana@example.com", session.User.Email)
	assert.Equal(t, "user-123", session.User.ID)
}

func TestGetSession_RefreshesNearExpiry(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	newExpiry := time.Now().Add(time.Hour)
	newAccess := signToken(t, "ana@example.com", newExpiry)

	client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])

		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:  newAccess,
			TokenType:    "bearer",
			ExpiresIn:    3600,
			RefreshToken: "refresh-2",
		})
	}))

	expires := time.Now().Add(30 * time.Second)
	persist(t, st, tokenResponse{
		AccessToken:  signToken(t, "ana@example.com", expires),
		ExpiresAt:    expires.Unix(),
		RefreshToken: "refresh-1",
		User:         &backend.User{ID: "user-123", Email: "ana@example.com"},
	})

	session, err := client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, newAccess, session.AccessToken)
	assert.Equal(t, "ana@example.com", session.User.Email)
	assert.Equal(t, []backend.AuthEvent{backend.EventTokenRefreshed}, events.all())

	// the refreshed bundle is persisted so the next read needs no call
	_, err = client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	raw, err := st.Get(ctx, "sb-test-auth-token")
	require.NoError(t, err)
	assert.Contains(t, raw, "refresh-2")
}

func TestGetSession_RefreshRejected(t *testing.T) {
	ctx := context.Background()
	client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Invalid Refresh Token: Already Used"})
	}))

	expired := time.Now().Add(-time.Minute)
	persist(t, st, tokenResponse{
		AccessToken:  signToken(t, "ana@example.com", expired),
		ExpiresAt:    expired.Unix(),
		RefreshToken: "refresh-1",
	})

	session, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []backend.AuthEvent{backend.EventSignedOut}, events.all())

	_, err = st.Get(ctx, "sb-test-auth-token")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetSession_RefreshUnreachable(t *testing.T) {
	ctx := context.Background()
	client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	expired := time.Now().Add(-time.Minute)
	persist(t, st, tokenResponse{
		AccessToken:  signToken(t, "ana@example.com", expired),
		ExpiresAt:    expired.Unix(),
		RefreshToken: "refresh-1",
	})

	_, err := client.GetSession(ctx)
	require.ErrorIs(t, err, backend.ErrNetwork)
	assert.Empty(t, events.all())

	// the bundle survives so a later attempt can still refresh
	_, err = st.Get(ctx, "sb-test-auth-token")
	require.NoError(t, err)
}

func TestGetSession_CorruptBundle(t *testing.T) {
	ctx := context.Background()
	client, st, _ := newTestClient(t, failOnCall(t))

	require.NoError(t, st.Set(ctx, "sb-test-auth-token", "{not json"))

	_, err := client.GetSession(ctx)
	require.ErrorIs(t, err, backend.ErrState)

	_, err = st.Get(ctx, "sb-test-auth-token")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetUser(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	expires := time.Now().Add(time.Hour)
	access := signToken(t, "ana@example.com", expires)

	client, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, backend.User{ID: "user-123", Email: "ana@example.com"})
	}))

	user, err := client.GetUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user, "no session means no user")
	assert.Equal(t, int32(0), calls.Load())

	persist(t, st, tokenResponse{AccessToken: access, TokenType: "bearer", ExpiresAt: expires.Unix(), RefreshToken: "r"})

	user, err = client.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetUser_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	client, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
	}))

	expires := time.Now().Add(time.Hour)
	persist(t, st, tokenResponse{AccessToken: signToken(t, "ana@example.com", expires), ExpiresAt: expires.Unix(), RefreshToken: "r"})

	user, err := client.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int32(1), calls.Load(), "rejections are not retried")
}

func TestGetUser_Unreachable(t *testing.T) {
	st := memory.NewStore()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := New(Config{URL: srv.URL, AnonKey: testAnonKey, StorageKey: "sb-test-auth-token", Timeout: time.Second, MaxRetries: 2}, st)
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour)
	persist(t, st, tokenResponse{AccessToken: signToken(t, "ana@example.com", expires), ExpiresAt: expires.Unix(), RefreshToken: "r"})

	_, err = client.GetUser(context.Background())
	require.ErrorIs(t, err, backend.ErrNetwork)
}

func TestSignOut(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "accepted", status: http.StatusNoContent},
		{name: "token already revoked", status: http.StatusUnauthorized},
		{name: "rejected", status: http.StatusBadRequest, wantErr: backend.ErrAuth},
		{name: "server failure", status: http.StatusInternalServerError, wantErr: backend.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			expires := time.Now().Add(time.Hour)
			access := signToken(t, "ana@example.com", expires)

			client, st, events := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/auth/v1/logout", r.URL.Path)
				assert.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))

			persist(t, st, tokenResponse{AccessToken: access, ExpiresAt: expires.Unix(), RefreshToken: "r"})

			err := client.SignOut(ctx)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, []backend.AuthEvent{backend.EventSignedOut}, events.all())
			_, err = st.Get(ctx, "sb-test-auth-token")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestSignOut_NoSession(t *testing.T) {
	client, _, events := newTestClient(t, failOnCall(t))

	require.NoError(t, client.SignOut(context.Background()))
	assert.Equal(t, []backend.AuthEvent{backend.EventSignedOut}, events.all())
}

func TestSettings_Cached(t *testing.T) {
	var calls atomic.Int32
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/auth/v1/settings", r.URL.Path)
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, map[string]any{
			"external":       map[string]bool{"email": true, "github": false},
			"disable_signup": true,
		})
	}))

	for range 2 {
		settings, err := client.Settings(context.Background())
		require.NoError(t, err)
		assert.True(t, settings.DisableSignup)
		assert.Equal(t, []string{"email"}, settings.Providers())
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestSettings_DiskCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, map[string]any{"external": map[string]bool{"email": true}})
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{URL: srv.URL, AnonKey: testAnonKey, CacheDir: t.TempDir()}, memory.NewStore())
	require.NoError(t, err)

	settings, err := client.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, settings.Providers())
}
