package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/page"
	"github.com/wolfeidau/caseguard/internal/session"
)

// Wire attaches the logout and extend handlers to the controls in the page.
func (g *Guard) Wire(ctx context.Context) {
	logouts := g.doc.Query(page.AttrLogout)
	for _, el := range logouts {
		el.OnClick(func(ctx context.Context, _ *page.Element) {
			g.Logout(ctx)
		})
	}

	extends := g.doc.Query(page.AttrExtendSession)
	for _, el := range extends {
		el.OnClick(g.Extend)
	}

	g.logger.Debug().Int("logout", len(logouts)).Int("extend", len(extends)).Msg("session controls wired")
}

// Logout asks for confirmation and signs out. A failed sign out is reported
// to the user before the redirect.
func (g *Guard) Logout(ctx context.Context) {
	ok, err := g.prompter.Confirm(ctx, LogoutPrompt)
	if err != nil {
		g.logger.Debug().Err(err).Msg("logout prompt dismissed")
		return
	}
	if !ok {
		return
	}

	g.monitor.Stop()
	if err := g.signOut(ctx); err != nil {
		g.alerter.Alert(ctx, SignOutFailedMessage)
	}
	g.redirect(ctx)
}

// Extend records activity and briefly relabels el as confirmation. It never
// calls the backend.
func (g *Guard) Extend(ctx context.Context, el *page.Element) {
	if err := g.monitor.Touch(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to extend session")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if fb, ok := g.feedback[el]; ok {
		fb.timer.Reset(g.cfg.FeedbackDuration)
		return
	}

	fb := &labelFeedback{original: el.Text()}
	fb.timer = time.AfterFunc(g.cfg.FeedbackDuration, func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.feedback[el] == fb {
			el.SetText(fb.original)
			delete(g.feedback, el)
		}
	})
	g.feedback[el] = fb
	el.SetText(ExtendedLabel)

	g.logger.Info().Msg("session extended")
}

// SignOut tears the session down locally, asks the backend to revoke it and
// redirects to the sign in page. The redirect happens even when the backend
// refuses, in which case an error wrapping backend.ErrAuth is returned.
// It must not be called from a monitor callback.
func (g *Guard) SignOut(ctx context.Context) error {
	g.monitor.Stop()
	err := g.signOut(ctx)
	g.redirect(ctx)
	return err
}

func (g *Guard) signOut(ctx context.Context) error {
	g.stopRefresh()

	if err := g.monitor.Clear(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to clear activity record")
	}
	g.forgetEmail(ctx)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	err := g.backend.SignOut(callCtx)
	cancel()

	if err != nil {
		g.logger.Error().Err(err).Msg("sign out failed")
		if errors.Is(err, backend.ErrAuth) {
			return err
		}
		return fmt.Errorf("%w: %w", backend.ErrAuth, err)
	}

	g.logger.Info().Msg("signed out")
	return nil
}

// forcedSignOut is the monitor callback.
func (g *Guard) forcedSignOut(ctx context.Context, reason session.Reason) error {
	g.logger.Info().Str("reason", string(reason)).Msg("forcing sign out")

	err := g.signOut(ctx)
	g.redirect(ctx)
	return err
}

// HandleAuthEvent keeps the activity record in step with the backend session.
func (g *Guard) HandleAuthEvent(event backend.AuthEvent, _ *backend.Session) {
	switch event {
	case backend.EventSignedIn:
		if err := g.monitor.Start(g.ctx); err != nil {
			g.logger.Error().Err(err).Msg("failed to start session tracking")
		}
	case backend.EventSignedOut:
		if err := g.monitor.Clear(g.ctx); err != nil {
			g.logger.Warn().Err(err).Msg("failed to clear activity record")
		}
	case backend.EventTokenRefreshed:
		g.logger.Debug().Msg("access token refreshed")
	default:
		g.logger.Debug().Str("event", string(event)).Msg("ignoring auth event")
	}
}

// Subscribe registers HandleAuthEvent with the backend until Close.
func (g *Guard) Subscribe() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe == nil {
		g.unsubscribe = g.backend.OnAuthStateChange(g.HandleAuthEvent)
	}
}

// Close stops all background work and unsubscribes from auth events. It must
// not be called from a monitor callback or a navigator.
func (g *Guard) Close() {
	g.stopRefresh()
	g.cancel()
	g.monitor.Stop()
	g.wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	for el, fb := range g.feedback {
		fb.timer.Stop()
		delete(g.feedback, el)
	}
}
