package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/store"
	"golang.org/x/oauth2"
)

// tokenResponse is both the GoTrue token grant response and the persisted
// session bundle, matching the browser SDK storage format.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	ExpiresAt    int64         `json:"expires_at,omitempty"`
	RefreshToken string        `json:"refresh_token"`
	User         *backend.User `json:"user,omitempty"`
}

// accessClaims are the GoTrue access token claims used to recover fields a
// bundle may lack.
type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// parseClaims decodes the access token without verifying its signature. The
// token came from the backend over TLS and is only read for display and expiry.
func parseClaims(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

// toSession converts a bundle into a backend session, filling a missing expiry
// and user from the access token claims.
func (t *tokenResponse) toSession() (*backend.Session, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: bundle has no access token", backend.ErrState)
	}

	session := &backend.Session{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}
	if t.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	}

	if !session.ExpiresAt.IsZero() && session.User != nil && session.User.Email != "" {
		return session, nil
	}

	claims, err := parseClaims(t.AccessToken)
	if err != nil {
		if session.ExpiresAt.IsZero() {
			return nil, fmt.Errorf("%w: %v", backend.ErrState, err)
		}
		return session, nil
	}

	if session.ExpiresAt.IsZero() {
		if claims.ExpiresAt == nil {
			return nil, fmt.Errorf("%w: access token has no expiry", backend.ErrState)
		}
		session.ExpiresAt = claims.ExpiresAt.Time
	}

	if session.User == nil {
		session.User = &backend.User{ID: claims.Subject}
	}
	if session.User.Email == "" {
		session.User.Email = claims.Email
	}

	return session, nil
}

func (t *tokenResponse) oauth2Token(expiresAt time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       expiresAt,
	}
}

// stamp fills ExpiresAt from ExpiresIn when the server only sent the latter.
func (t *tokenResponse) stamp(now time.Time) {
	if t.ExpiresAt == 0 && t.ExpiresIn > 0 {
		t.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).Unix()
	}
}

func (c *Client) load(ctx context.Context) (*tokenResponse, error) {
	raw, err := c.store.Get(ctx, c.cfg.StorageKey)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", backend.ErrState, err)
		}
		return nil, err
	}

	var bundle tokenResponse
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("%w: failed to decode session bundle: %v", backend.ErrState, err)
	}

	return &bundle, nil
}

func (c *Client) save(ctx context.Context, bundle *tokenResponse) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode session bundle: %w", err)
	}

	if err := c.store.Set(ctx, c.cfg.StorageKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist session bundle: %w", err)
	}
	return nil
}

func (c *Client) drop(ctx context.Context) {
	if err := c.store.Delete(context.WithoutCancel(ctx), c.cfg.StorageKey); err != nil {
		log.Warn().Err(err).Str("key", c.cfg.StorageKey).Msg("failed to remove session bundle")
	}
}

// GetSession returns the persisted session, refreshing the access token when
// it is about to expire. A nil session with a nil error means signed out.
func (c *Client) GetSession(ctx context.Context) (*backend.Session, error) {
	started := time.Now()

	session, event, err := c.currentSession(ctx)
	c.observe(ctx, "get_session", started, err)
	if err != nil {
		return nil, err
	}

	if event != "" {
		c.Emit(event, session)
	}

	return session, nil
}

func (c *Client) currentSession(ctx context.Context) (*backend.Session, backend.AuthEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bundle, err := c.load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", nil
		}
		if errors.Is(err, backend.ErrState) {
			c.drop(ctx)
		}
		return nil, "", err
	}

	session, err := bundle.toSession()
	if err != nil {
		c.drop(ctx)
		return nil, "", err
	}

	src := &refreshSource{ctx: ctx, client: c, refreshToken: bundle.RefreshToken}
	tok, err := oauth2.ReuseTokenSourceWithExpiry(bundle.oauth2Token(session.ExpiresAt), src, c.cfg.RefreshMargin).Token()
	if err != nil {
		if errors.Is(err, backend.ErrAuth) {
			log.Info().Err(err).Msg("refresh token rejected, dropping session")
			c.drop(ctx)
			return nil, backend.EventSignedOut, nil
		}
		return nil, "", backend.Classify(err)
	}

	if src.refreshed == nil {
		return session, "", nil
	}
	log.Debug().Time("expiry", tok.Expiry).Msg("access token expiring, refreshed")

	refreshed := src.refreshed
	if refreshed.User == nil {
		refreshed.User = bundle.User
	}

	session, err = refreshed.toSession()
	if err != nil {
		return nil, "", err
	}

	if err := c.save(ctx, refreshed); err != nil {
		return nil, "", err
	}

	return session, backend.EventTokenRefreshed, nil
}

// refreshSource exchanges a refresh token for a new session. GoTrue refresh
// tokens are single use so the exchange is attempted once.
type refreshSource struct {
	ctx          context.Context
	client       *Client
	refreshToken string

	refreshed *tokenResponse
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	if s.refreshToken == "" {
		return nil, fmt.Errorf("%w: session has no refresh token", backend.ErrAuth)
	}

	resp, err := s.client.grant(s.ctx, "refresh_token", map[string]string{
		"refresh_token": s.refreshToken,
	})
	if err != nil {
		return nil, err
	}

	s.refreshed = resp
	return resp.oauth2Token(time.Unix(resp.ExpiresAt, 0)), nil
}

// grant calls the token endpoint with the given grant type.
func (c *Client) grant(ctx context.Context, grantType string, body map[string]string) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, backend.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode token response: %v", ErrUnexpectedResponse, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access token", ErrUnexpectedResponse)
	}

	out.stamp(time.Now())
	return &out, nil
}
