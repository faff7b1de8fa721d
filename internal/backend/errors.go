package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinel errors for the three failure classes the guard distinguishes.
var (
	// ErrNetwork is returned when the backend is unreachable or a call timed out.
	ErrNetwork = errors.New("backend unreachable")

	// ErrAuth is returned when the backend rejects a sign in or sign out.
	ErrAuth = errors.New("backend rejected request")

	// ErrState is returned when persisted session state is missing or corrupt.
	ErrState = errors.New("session state invalid")
)

// Classify maps transport level failures onto the taxonomy. Errors already
// carrying one of the sentinels are returned unchanged; deadline and
// connection failures become ErrNetwork.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrAuth) || errors.Is(err, ErrState) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrNetwork, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	return err
}

// IsNetwork reports whether err is classified as a network failure.
func IsNetwork(err error) bool {
	return errors.Is(Classify(err), ErrNetwork)
}
