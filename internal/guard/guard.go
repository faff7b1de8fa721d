// Package guard gates a page on the presence of a valid session, wires the
// session controls found in the page and tears the session down on sign out.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/backend"
	"github.com/wolfeidau/caseguard/internal/page"
	"github.com/wolfeidau/caseguard/internal/session"
	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	// LogoutPrompt is shown before a user initiated sign out.
	LogoutPrompt = "Are you sure you want to sign out?"

	// SignOutFailedMessage is shown when the backend rejects a sign out.
	SignOutFailedMessage = "Error signing out. Please try again."

	// ExtendedLabel temporarily replaces the label of an extend control.
	ExtendedLabel = "✓ Session extended"
)

var tracer = otel.Tracer("github.com/wolfeidau/caseguard/internal/guard")

// Decision is the outcome of a page check.
type Decision string

const (
	// DecisionAdmitted means the page may be shown.
	DecisionAdmitted Decision = "admitted"

	// DecisionNoSession means there was no session and the user was redirected.
	DecisionNoSession Decision = "no_session"

	// DecisionExpired means the session was idle too long and was signed out.
	DecisionExpired Decision = "expired"

	// DecisionError means verification failed and the user was redirected.
	DecisionError Decision = "error"
)

// Config holds guard settings.
type Config struct {
	// SignInPath is where unauthenticated users are sent.
	// Default: /login
	SignInPath string

	// RefreshInterval is how often the remaining time display is updated.
	// Default: 60 seconds
	RefreshInterval time.Duration

	// CallTimeout bounds each backend call.
	// Default: 10 seconds
	CallTimeout time.Duration

	// FeedbackDuration is how long the extend confirmation label stays.
	// Default: 2 seconds
	FeedbackDuration time.Duration

	// SessionTimeout, WarningWindow and PollInterval configure the monitor.
	// Zero values use the session package defaults.
	SessionTimeout time.Duration
	WarningWindow  time.Duration
	PollInterval   time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SignInPath == "" {
		c.SignInPath = "/login"
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.FeedbackDuration == 0 {
		c.FeedbackDuration = 2 * time.Second
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = session.DefaultTimeout
	}
	if c.WarningWindow == 0 {
		c.WarningWindow = session.DefaultWarningWindow
	}
	if c.PollInterval == 0 {
		c.PollInterval = session.DefaultPollInterval
	}
}

// Deps are the collaborators of a guard.
type Deps struct {
	Backend   backend.Client
	Store     store.Store
	Document  *page.Document
	Navigator page.Navigator
	Prompter  page.Prompter
	Alerter   page.Alerter

	// Logger defaults to the global logger.
	Logger *zerolog.Logger

	// Metrics defaults to telemetry.GetMetrics().
	Metrics *telemetry.Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (d *Deps) validate() error {
	switch {
	case d.Backend == nil:
		return errors.New("backend is required")
	case d.Store == nil:
		return errors.New("store is required")
	case d.Navigator == nil:
		return errors.New("navigator is required")
	case d.Prompter == nil:
		return errors.New("prompter is required")
	case d.Alerter == nil:
		return errors.New("alerter is required")
	}
	return nil
}

// Guard protects one page.
type Guard struct {
	cfg       Config
	backend   backend.Client
	store     store.Store
	doc       *page.Document
	navigator page.Navigator
	prompter  page.Prompter
	alerter   page.Alerter
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	monitor   *session.Monitor

	// ctx bounds the background work of the guard and ends on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	refreshCancel context.CancelFunc
	unsubscribe   func()
	feedback      map[*page.Element]*labelFeedback
	wg            sync.WaitGroup
}

type labelFeedback struct {
	original string
	timer    *time.Timer
}

// New creates a guard and the session monitor it owns.
func New(cfg Config, deps Deps) (*Guard, error) {
	cfg.ApplyDefaults()
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid guard dependencies: %w", err)
	}

	if deps.Document == nil {
		deps.Document = page.NewDocument()
	}
	if deps.Logger == nil {
		deps.Logger = &log.Logger
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.GetMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Guard{
		cfg:       cfg,
		backend:   deps.Backend,
		store:     deps.Store,
		doc:       deps.Document,
		navigator: deps.Navigator,
		prompter:  deps.Prompter,
		alerter:   deps.Alerter,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("page", deps.Document.ID()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		feedback:  make(map[*page.Element]*labelFeedback),
	}

	g.monitor = session.NewMonitor(deps.Store,
		session.WithClock(deps.Clock),
		session.WithTimeout(cfg.SessionTimeout),
		session.WithWarningWindow(cfg.WarningWindow),
		session.WithPollInterval(cfg.PollInterval),
		session.WithPrompter(deps.Prompter),
		session.WithSignOut(g.forcedSignOut),
		session.WithActivitySource(deps.Document),
		session.WithMetrics(deps.Metrics),
	)

	return g, nil
}

// Monitor returns the session monitor owned by the guard.
func (g *Guard) Monitor() *session.Monitor {
	return g.monitor
}

// Document returns the guarded page.
func (g *Guard) Document() *page.Document {
	return g.doc
}

// Check runs the page gate. Unless the decision is DecisionAdmitted the user
// has already been redirected to the sign in page. The returned error is
// informational; DecisionError is always paired with one.
func (g *Guard) Check(ctx context.Context) (Decision, error) {
	ctx, span := tracer.Start(ctx, "guard.Check")
	defer span.End()

	decision, err := g.gate(ctx)
	if decision == DecisionAdmitted {
		g.admit(ctx)
	}

	g.record(ctx, decision)
	span.SetAttributes(attribute.String("decision", string(decision)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return decision, err
}

// Restore re-runs the session checks when a cached page is shown again,
// without redoing the identity fetch or display wiring.
func (g *Guard) Restore(ctx context.Context) (Decision, error) {
	ctx, span := tracer.Start(ctx, "guard.Restore")
	defer span.End()

	decision, err := g.gate(ctx)
	g.record(ctx, decision)
	span.SetAttributes(attribute.String("decision", string(decision)))

	return decision, err
}

func (g *Guard) gate(ctx context.Context) (Decision, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	sess, err := g.backend.GetSession(callCtx)
	cancel()
	if err != nil {
		err = backend.Classify(err)
		g.logger.Error().Err(err).Msg("session verification failed")
		g.forgetEmail(ctx)
		g.redirect(ctx)
		return DecisionError, fmt.Errorf("failed to verify session: %w", err)
	}

	if sess == nil {
		g.logger.Info().Msg("no session, redirecting to sign in")
		g.forgetEmail(ctx)
		g.redirect(ctx)
		return DecisionNoSession, nil
	}

	if !g.monitor.IsValid(ctx) {
		g.logger.Info().Msg("session idle too long, signing out")
		g.monitor.Stop()
		_ = g.forcedSignOut(ctx, session.ReasonIdle)
		return DecisionExpired, nil
	}

	return DecisionAdmitted, nil
}

// admit attaches the monitor, fills identity slots and starts the display loop.
func (g *Guard) admit(ctx context.Context) {
	if err := g.monitor.Attach(g.ctx); err != nil {
		g.logger.Warn().Err(err).Msg("failed to attach session monitor")
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	user, err := g.backend.GetUser(callCtx)
	cancel()

	switch {
	case err != nil:
		g.logger.Warn().Err(err).Msg("failed to load user identity")
	case user != nil:
		for _, el := range g.doc.Query(page.AttrUserEmail) {
			el.SetText(user.Email)
		}
		if err := g.store.Set(ctx, store.KeyUserEmail, user.Email); err != nil {
			g.logger.Warn().Err(err).Msg("failed to cache user email")
		}
	}

	if len(g.doc.Query(page.AttrSessionTime)) > 0 {
		g.RenderSessionTime(ctx)
		g.startRefresh()
	}

	g.logger.Info().Msg("page admitted")
}

// RenderSessionTime writes the remaining session time into every time slot.
func (g *Guard) RenderSessionTime(ctx context.Context) {
	text := session.Format(g.monitor.Remaining(ctx))
	for _, el := range g.doc.Query(page.AttrSessionTime) {
		el.SetText(text)
	}
}

func (g *Guard) startRefresh() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.refreshCancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(g.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.RenderSessionTime(ctx)
			}
		}
	}()
}

func (g *Guard) stopRefresh() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refreshCancel != nil {
		g.refreshCancel()
		g.refreshCancel = nil
	}
}

// Refreshing reports whether the remaining time display loop is running.
func (g *Guard) Refreshing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshCancel != nil
}

func (g *Guard) redirect(ctx context.Context) {
	g.navigator.Navigate(ctx, g.cfg.SignInPath)
}

func (g *Guard) forgetEmail(ctx context.Context) {
	if err := g.store.Delete(ctx, store.KeyUserEmail); err != nil {
		g.logger.Warn().Err(err).Msg("failed to remove cached user email")
	}
}

func (g *Guard) record(ctx context.Context, decision Decision) {
	g.metrics.GuardDecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
}
