package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfeidau/caseguard/internal/backend"
)

// ErrUnexpectedResponse is returned when the API answers with a body the
// client cannot interpret.
var ErrUnexpectedResponse = errors.New("unexpected response from auth API")

// apiError is the union of the error shapes GoTrue has returned over time.
type apiError struct {
	Code             any    `json:"code,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	Msg              string `json:"msg,omitempty"`
	Message          string `json:"message,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e *apiError) message() string {
	for _, m := range []string{e.Msg, e.ErrorDescription, e.Message, e.Error, e.ErrorCode} {
		if m != "" {
			return m
		}
	}
	return ""
}

// responseError maps a non success response onto the backend taxonomy:
// client errors are rejections, server errors and throttling are network
// failures worth retrying.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := resp.Status
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.message() != "" {
		msg = fmt.Sprintf("%s: %s", resp.Status, apiErr.message())
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", backend.ErrNetwork, msg)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", backend.ErrAuth, msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, msg)
	}
}

// retryable reports whether a failed idempotent call is worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, backend.ErrNetwork)
}
