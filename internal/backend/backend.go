// Package backend defines the contract the session guard consumes from the
// hosted backend-as-a-service, along with the error taxonomy every
// implementation maps its failures onto.
package backend

import (
	"context"
	"time"
)

// AuthEvent identifies an auth state transition reported by the backend.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// User is the identity of the signed in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the backend issued proof of authentication. The guard only
// cares whether one is present.
type Session struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
	User         *User     `json:"user,omitempty"`
}

// AuthStateFunc receives auth state transitions. session is nil for
// EventSignedOut.
type AuthStateFunc func(event AuthEvent, session *Session)

// Client is the subset of the backend used by the guard.
type Client interface {
	// GetSession returns the current session or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)

	// GetUser returns the identity behind the current session or nil.
	GetUser(ctx context.Context) (*User, error)

	// SignOut invalidates the current session.
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers fn and returns a function removing it.
	OnAuthStateChange(fn AuthStateFunc) (unsubscribe func())
}
