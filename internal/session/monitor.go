// Package session enforces a local inactivity timeout on top of whatever
// lifetime the backend gives its tokens. Activity timestamps are persisted
// in a store.Store so every page sharing that store sees the same record.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/caseguard/internal/page"
	"github.com/wolfeidau/caseguard/internal/store"
	"github.com/wolfeidau/caseguard/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultTimeout is the maximum idle time before a forced sign out.
	DefaultTimeout = 15 * time.Minute

	// DefaultWarningWindow is how long before expiry the user is warned.
	DefaultWarningWindow = 2 * time.Minute

	// DefaultPollInterval is how often the monitor checks for expiry.
	DefaultPollInterval = 30 * time.Second
)

// Reason explains why the monitor forced a sign out.
type Reason string

const (
	// ReasonIdle means the inactivity timeout elapsed.
	ReasonIdle Reason = "idle"

	// ReasonDeclined means the user chose not to continue when warned.
	ReasonDeclined Reason = "declined"
)

// SignOutFunc performs a forced sign out.
type SignOutFunc func(ctx context.Context, reason Reason) error

// ActivitySource delivers user interaction events.
type ActivitySource interface {
	Listen(kind page.EventKind, fn func(page.Event)) (unsubscribe func())
}

// ActivityRecord is the persisted view of the tracked session.
type ActivityRecord struct {
	LastActivityAt   time.Time
	SessionStartedAt time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithTimeout sets the inactivity timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithWarningWindow sets how long before expiry the warning is raised.
func WithWarningWindow(d time.Duration) Option {
	return func(m *Monitor) { m.warningWindow = d }
}

// WithPollInterval sets the expiry check interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.pollInterval = d }
}

// WithPrompter sets the dialog used for the expiry warning. Without one no
// warning is shown and the session simply expires.
func WithPrompter(p page.Prompter) Option {
	return func(m *Monitor) { m.prompter = p }
}

// WithSignOut sets the function called to force a sign out.
func WithSignOut(fn SignOutFunc) Option {
	return func(m *Monitor) { m.signOut = fn }
}

// WithActivitySource sets where user interaction events come from.
func WithActivitySource(src ActivitySource) Option {
	return func(m *Monitor) { m.source = src }
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// Monitor tracks user activity and forces a sign out once the session has
// been idle for longer than the timeout.
type Monitor struct {
	store         store.Store
	now           func() time.Time
	timeout       time.Duration
	warningWindow time.Duration
	pollInterval  time.Duration
	prompter      page.Prompter
	signOut       SignOutFunc
	source        ActivitySource
	metrics       *telemetry.Metrics

	mu           sync.Mutex
	attached     bool
	cancel       context.CancelFunc
	unlisten     []func()
	warningShown bool
	warnCancel   context.CancelFunc
	signingOut   bool
	wg           sync.WaitGroup
}

// NewMonitor creates a monitor persisting activity in st.
func NewMonitor(st store.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:         st,
		now:           time.Now,
		timeout:       DefaultTimeout,
		warningWindow: DefaultWarningWindow,
		pollInterval:  DefaultPollInterval,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = telemetry.GetMetrics()
	}

	return m
}

// Timeout returns the configured inactivity timeout.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Start begins a new session cycle: both timestamps are set to now, the
// warning flag is reset and the monitor is attached.
func (m *Monitor) Start(ctx context.Context) error {
	now := strconv.FormatInt(m.now().UnixMilli(), 10)

	if err := m.store.Set(ctx, store.KeyLastActivity, now); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	if err := m.store.Set(ctx, store.KeySessionStart, now); err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}

	m.mu.Lock()
	m.warningShown = false
	m.signingOut = false
	m.mu.Unlock()

	log.Info().Msg("session tracking started")

	return m.Attach(ctx)
}

// Attach registers the activity listeners and starts the poll loop without
// touching the persisted timestamps. It is a no-op while already attached.
// The loop runs until ctx is cancelled, Stop is called or a sign out is forced.
func (m *Monitor) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attached {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.attached = true
	m.signingOut = false

	if m.source != nil {
		for _, kind := range page.ActivityEvents {
			m.unlisten = append(m.unlisten, m.source.Listen(kind, func(page.Event) {
				if err := m.Touch(loopCtx); err != nil {
					log.Warn().Err(err).Msg("failed to record activity")
				}
			}))
		}
	}

	m.wg.Add(1)
	go m.loop(loopCtx)

	log.Debug().Dur("interval", m.pollInterval).Msg("session monitor attached")

	return nil
}

// Stop removes the listeners, cancels the poll loop and any open warning and
// waits for them to finish. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.halt()
	m.wg.Wait()
}

// halt is Stop without waiting, usable from the monitor's own goroutines.
func (m *Monitor) halt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.warnCancel != nil {
		m.warnCancel()
		m.warnCancel = nil
	}
	for _, unlisten := range m.unlisten {
		unlisten()
	}
	m.unlisten = nil
	m.attached = false
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Touch records user activity now. It is a single store write.
func (m *Monitor) Touch(ctx context.Context) error {
	now := strconv.FormatInt(m.now().UnixMilli(), 10)
	if err := m.store.Set(ctx, store.KeyLastActivity, now); err != nil {
		return err
	}

	m.metrics.ActivityTouchesTotal.Add(ctx, 1)
	return nil
}

// Record returns the persisted activity record. ok is false when no session
// is tracked or the record cannot be read.
func (m *Monitor) Record(ctx context.Context) (ActivityRecord, bool) {
	last, ok := m.readMillis(ctx, store.KeyLastActivity)
	if !ok {
		return ActivityRecord{}, false
	}

	rec := ActivityRecord{LastActivityAt: last}
	if started, ok := m.readMillis(ctx, store.KeySessionStart); ok {
		rec.SessionStartedAt = started
	}

	return rec, true
}

// IsValid reports whether the session has seen activity within the timeout.
func (m *Monitor) IsValid(ctx context.Context) bool {
	last, ok := m.readMillis(ctx, store.KeyLastActivity)
	if !ok {
		return false
	}
	return m.now().Sub(last) < m.timeout
}

// Remaining returns the time left before the session expires, or zero when
// expired or untracked. Both display and enforcement use this value.
func (m *Monitor) Remaining(ctx context.Context) time.Duration {
	last, ok := m.readMillis(ctx, store.KeyLastActivity)
	if !ok {
		return 0
	}
	return max(0, m.timeout-m.now().Sub(last))
}

// Clear removes the persisted activity record.
func (m *Monitor) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx, store.KeyLastActivity, store.KeySessionStart); err != nil {
		return fmt.Errorf("failed to clear activity: %w", err)
	}

	log.Debug().Msg("session activity cleared")
	return nil
}

// WarningShown reports whether an expiry warning is currently open or
// awaiting acceptance.
func (m *Monitor) WarningShown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningShown
}

// Poll runs one expiry check. The warning and expiry checks are evaluated
// independently: an open warning never suppresses expiry.
func (m *Monitor) Poll(ctx context.Context) {
	remaining := m.Remaining(ctx)

	if remaining > 0 && remaining <= m.warningWindow {
		m.warn(ctx, remaining)
	}

	if remaining == 0 {
		log.Info().Msg("session expired due to inactivity")
		m.forceSignOut(ctx, ReasonIdle)
	}
}

// warn raises the expiry warning unless one is already shown. The prompt is
// awaited on its own goroutine so polling and activity tracking continue.
func (m *Monitor) warn(ctx context.Context, remaining time.Duration) {
	m.mu.Lock()
	if m.warningShown || m.prompter == nil {
		m.mu.Unlock()
		return
	}
	m.warningShown = true

	warnCtx, cancel := context.WithCancel(ctx)
	m.warnCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.WarningsShownTotal.Add(ctx, 1)

	go func() {
		defer m.wg.Done()
		defer cancel()

		minutes := int(math.Ceil(remaining.Minutes()))
		message := fmt.Sprintf("SECURITY WARNING\n\n"+
			"Your session will expire in %d minute(s) due to inactivity.\n\n"+
			"Do you want to continue your session?", minutes)

		ok, err := m.prompter.Confirm(warnCtx, message)
		if warnCtx.Err() != nil {
			// cancelled by expiry or Stop, the next expiry check settles it
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("session warning prompt failed")

			// never shown, so the next poll retries
			m.mu.Lock()
			m.warningShown = false
			m.mu.Unlock()
			return
		}

		if !ok {
			m.forceSignOut(ctx, ReasonDeclined)
			return
		}

		if err := m.Touch(warnCtx); err != nil {
			log.Warn().Err(err).Msg("failed to record activity")
		}

		m.mu.Lock()
		m.warningShown = false
		m.mu.Unlock()

		log.Info().Msg("session extended by user")
	}()
}

// forceSignOut detaches the monitor and invokes the sign out callback once
// per session cycle.
func (m *Monitor) forceSignOut(ctx context.Context, reason Reason) {
	m.mu.Lock()
	if m.signingOut {
		m.mu.Unlock()
		return
	}
	m.signingOut = true
	m.mu.Unlock()

	m.halt()

	m.metrics.ForcedSignOutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))

	if m.signOut == nil {
		return
	}

	if err := m.signOut(context.WithoutCancel(ctx), reason); err != nil {
		log.Error().Err(err).Str("reason", string(reason)).Msg("forced sign out failed")
	}
}

func (m *Monitor) readMillis(ctx context.Context, key string) (time.Time, bool) {
	value, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Debug().Err(err).Str("key", key).Msg("activity record unreadable, treating as absent")
		}
		return time.Time{}, false
	}

	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("activity record corrupt, treating as absent")
		return time.Time{}, false
	}

	return time.UnixMilli(millis), true
}

// Format renders d as minutes and zero padded seconds, e.g. "2:05".
// Minutes do not roll over into hours. Display only.
func Format(d time.Duration) string {
	ms := max(0, d.Milliseconds())
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
