package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Client = (*Fake)(nil)

// Fake is an in-memory Client for tests and offline demos. Fields may be
// changed between calls through the setter methods.
type Fake struct {
	Subscribers

	mu sync.Mutex

	session *Session
	user    *User

	sessionErr error
	userErr    error
	signOutErr error

	getSessionCalls int
	getUserCalls    int
	signOutCalls    int
}

// NewFake returns a fake signed in as email, or signed out when email is empty.
func NewFake(email string) *Fake {
	f := &Fake{}
	if email != "" {
		f.SignIn(email)
	}
	return f
}

// SignIn installs a fresh session for email and emits EventSignedIn.
func (f *Fake) SignIn(email string) *Session {
	user := &User{ID: uuid.NewString(), Email: email}
	session := &Session{
		AccessToken:  uuid.NewString(),
		TokenType:    "bearer",
		RefreshToken: uuid.NewString(),
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         user,
	}

	f.mu.Lock()
	f.session = session
	f.user = user
	f.mu.Unlock()

	f.Emit(EventSignedIn, session)
	return session
}

// SetSessionError makes GetSession fail with err.
func (f *Fake) SetSessionError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionErr = err
}

// SetUserError makes GetUser fail with err.
func (f *Fake) SetUserError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userErr = err
}

// SetSignOutError makes SignOut fail with err. The session is still dropped.
func (f *Fake) SetSignOutError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutErr = err
}

// GetSession implements Client.
func (f *Fake) GetSession(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getSessionCalls++
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}
	return f.session, nil
}

// GetUser implements Client.
func (f *Fake) GetUser(ctx context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getUserCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.session == nil {
		return nil, nil
	}
	return f.user, nil
}

// SignOut implements Client.
func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	f.session = nil
	f.user = nil
	err := f.signOutErr
	f.mu.Unlock()

	f.Emit(EventSignedOut, nil)
	return err
}

// GetSessionCalls returns the number of GetSession calls.
func (f *Fake) GetSessionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getSessionCalls
}

// GetUserCalls returns the number of GetUser calls.
func (f *Fake) GetUserCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getUserCalls
}

// SignOutCalls returns the number of SignOut calls.
func (f *Fake) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}
