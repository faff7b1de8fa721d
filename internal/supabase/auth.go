package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/store"
	"golang.org/x/oauth2"
)

// SignInWithPassword exchanges credentials for a session, persists it and
// emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	started := time.Now()

	session, err := c.signIn(ctx, email, password)
	c.observe(ctx, "sign_in", started, err)
	if err != nil {
		return nil, err
	}

	log.Info().Str("email", session.User.Email).Msg("signed in")
	c.Emit(backend.EventSignedIn, session)

	return session, nil
}

func (c *Client) signIn(ctx context.Context, email, password string) (*backend.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bundle, err := c.grant(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}

	session, err := bundle.toSession()
	if err != nil {
		return nil, err
	}
	if session.User == nil {
		session.User = &backend.User{}
	}
	if session.User.Email == "" {
		session.User.Email = email
	}
	bundle.User = session.User

	if err := c.save(ctx, bundle); err != nil {
		return nil, err
	}

	return session, nil
}

// errUnauthorized ends retries when the access token is not accepted.
var errUnauthorized = errors.New("access token not accepted")

// GetUser fetches the identity for the current session. It returns nil when
// there is no session or the access token is no longer accepted.
func (c *Client) GetUser(ctx context.Context) (*backend.User, error) {
	started := time.Now()

	user, err := c.getUser(ctx)
	c.observe(ctx, "get_user", started, err)

	return user, err
}

func (c *Client) getUser(ctx context.Context) (*backend.User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	httpClient := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: session.AccessToken, TokenType: session.TokenType}),
	)

	user, err := backoff.Retry(ctx, func() (*backend.User, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := c.newRequest(callCtx, http.MethodGet, "/auth/v1/user", nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, backend.Classify(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, backoff.Permanent(errUnauthorized)
		default:
			err := responseError(resp)
			if retryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var user backend.User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: failed to decode user: %v", ErrUnexpectedResponse, err))
		}
		return &user, nil
	}, c.retryOptions()...)
	if err != nil {
		if errors.Is(err, errUnauthorized) {
			return nil, nil
		}
		return nil, backend.Classify(err)
	}

	return user, nil
}

// SignOut revokes the session. The local bundle is removed and SIGNED_OUT is
// emitted whatever the server answers.
func (c *Client) SignOut(ctx context.Context) error {
	started := time.Now()

	err := c.signOut(ctx)
	c.observe(ctx, "sign_out", started, err)

	c.Emit(backend.EventSignedOut, nil)

	return err
}

func (c *Client) signOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bundle, err := c.load(ctx)
	defer c.drop(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, backend.ErrState) {
			return nil
		}
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, http.MethodPost, "/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backend.Classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		// the token is already unusable on the server
		return nil
	}

	err = responseError(resp)
	if errors.Is(err, backend.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: sign out: %v", backend.ErrAuth, err)
}
