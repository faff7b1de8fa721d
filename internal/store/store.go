package store

import (
	"context"
	"errors"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrCorrupt is returned when persisted state fails its integrity check
	// or cannot be decoded.
	ErrCorrupt = errors.New("persisted state corrupt")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Keys shared by the session monitor, the guard and the backend client.
const (
	// KeyLastActivity holds the epoch millis of the last observed user activity.
	KeyLastActivity = "caseguard_last_activity"

	// KeySessionStart holds the epoch millis at which the current session began.
	KeySessionStart = "caseguard_session_start"

	// KeyUserEmail caches the signed in user's email for display.
	KeyUserEmail = "user_email"
)

// Store is a string keyed store that survives page navigation, the
// equivalent of browser local storage. Every Set is a single atomic write of
// one key; concurrent writers to the same key resolve as last write wins.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
