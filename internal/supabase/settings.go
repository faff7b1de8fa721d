package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wolfeidau/caseguard/internal/backend"
)

// Settings is the public auth configuration of the project.
type Settings struct {
	External          map[string]bool `json:"external"`
	DisableSignup     bool            `json:"disable_signup"`
	MailerAutoconfirm bool            `json:"mailer_autoconfirm"`
	PhoneAutoconfirm  bool            `json:"phone_autoconfirm"`
}

// Providers returns the enabled external providers.
func (s *Settings) Providers() []string {
	var out []string
	for name, enabled := range s.External {
		if enabled {
			out = append(out, name)
		}
	}
	return out
}

// Settings fetches the public auth settings. Responses are cached according
// to their Cache-Control headers.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	started := time.Now()

	settings, err := backoff.Retry(ctx, func() (*Settings, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := c.newRequest(callCtx, http.MethodGet, "/auth/v1/settings", nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.cacheClient.Do(req)
		if err != nil {
			return nil, backend.Classify(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := responseError(resp)
			if retryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		// read to EOF so the caching transport stores the response
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, backend.Classify(err)
		}

		var out Settings
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: failed to decode settings: %v", ErrUnexpectedResponse, err))
		}
		return &out, nil
	}, c.retryOptions()...)
	if err != nil {
		err = backend.Classify(err)
	}

	c.observe(ctx, "settings", started, err)
	return settings, err
}
