// Package session enforces inactivity and hidden-tab timeouts on an
// authenticated session, with logout broadcast across tabs.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/northpine/sitemedia/internal/broadcast"
)

// Reason tags what triggered a logout.
type Reason string

const (
	ReasonInactivity Reason = "inactivity"
	ReasonTabHidden  Reason = "tabHidden"
	ReasonStale      Reason = "staleSession"
	ReasonRemote     Reason = "remote"
	ReasonManual     Reason = "manual"
)

// TimerKind identifies which countdown, if any, is armed. At most one is
// armed at any instant.
type TimerKind int

const (
	TimerNone TimerKind = iota
	TimerInactivity
	TimerHidden
)

// Authenticator is the authoritative auth collaborator. The tracker never
// decides a session is valid on its own; it only expires one by signing out.
type Authenticator interface {
	SignOut(ctx context.Context) error
}

// DefaultTimeout is the idle window when the config leaves it zero.
const DefaultTimeout = 30 * time.Minute

// Config wires one tracker. Auth, Bus and Store are required.
type Config struct {
	Timeout       time.Duration // inactivity window; 0 means DefaultTimeout
	HiddenTimeout time.Duration // hidden-tab window; 0 means Timeout

	Auth    Authenticator
	Bus     broadcast.Bus
	Store   ActivityStore
	Logger  *zap.Logger
	Logouts *prometheus.CounterVec // optional, labeled by reason

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker owns the per-tab activity state. Construct it only after sign-in;
// it starts authenticated and visible.
type Tracker struct {
	timeout       time.Duration
	hiddenTimeout time.Duration
	auth          Authenticator
	bus           broadcast.Bus
	store         ActivityStore
	log           *zap.Logger
	logouts       *prometheus.CounterVec
	now           func() time.Time

	mu            sync.Mutex
	authenticated bool
	visible       bool
	lastActivity  time.Time
	timerKind     TimerKind
	timer         *time.Timer
	generation    uint64
	lastPublished int64 // millis of our own broadcast, to skip the echo

	unsubscribe func()
}

// New hydrates persisted activity state and performs the one-shot validity
// check: a session already past its timeout is logged out immediately and
// no timer is ever armed. Otherwise the load counts as activity and the
// inactivity timer starts.
func New(cfg Config) *Tracker {
	t := &Tracker{
		timeout:       cfg.Timeout,
		hiddenTimeout: cfg.HiddenTimeout,
		auth:          cfg.Auth,
		bus:           cfg.Bus,
		store:         cfg.Store,
		log:           cfg.Logger,
		logouts:       cfg.Logouts,
		now:           cfg.Now,
		authenticated: true,
		visible:       true,
	}
	if t.timeout == 0 {
		t.timeout = DefaultTimeout
	}
	if t.hiddenTimeout == 0 {
		t.hiddenTimeout = t.timeout
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	if t.now == nil {
		t.now = time.Now
	}

	t.unsubscribe = t.bus.Subscribe(t.onBroadcast)

	now := t.now()
	if last, ok := t.store.LastActivity(); ok && now.Sub(last) > t.timeout {
		t.log.Info("persisted session exceeded timeout, logging out",
			zap.Time("last_activity", last))
		t.logout(ReasonStale, true)
		return t
	}

	t.mu.Lock()
	t.lastActivity = now
	t.armInactivityLocked()
	t.mu.Unlock()
	if err := t.store.SetLastActivity(now); err != nil {
		t.log.Warn("persist activity", zap.Error(err))
	}
	return t
}

// RecordActivity handles one qualifying interaction event: it refreshes the
// persisted timestamp and, while visible, cancels and re-arms the
// inactivity timer.
func (t *Tracker) RecordActivity() {
	now := t.now()

	t.mu.Lock()
	if !t.authenticated {
		t.mu.Unlock()
		return
	}
	t.lastActivity = now
	if t.visible {
		t.armInactivityLocked()
	}
	t.mu.Unlock()

	if err := t.store.SetLastActivity(now); err != nil {
		t.log.Warn("persist activity", zap.Error(err))
	}
}

// SetVisible mirrors the page-visibility state. Hiding swaps the
// inactivity timer for the hidden-tab timer; showing swaps back.
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.visible == visible {
		return
	}
	t.visible = visible
	if !t.authenticated {
		return
	}
	if visible {
		t.armInactivityLocked()
	} else {
		t.armHiddenLocked()
	}
}

// Logout runs the idempotent logout procedure: disarm timers, broadcast,
// sign out remotely, clear local state. A failed remote sign-out is logged
// and otherwise ignored; locally the session is gone regardless.
func (t *Tracker) Logout(reason Reason) {
	t.logout(reason, true)
}

// Authenticated reports the local session state.
func (t *Tracker) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticated
}

// ArmedTimer reports which countdown is currently armed.
func (t *Tracker) ArmedTimer() TimerKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timerKind
}

// LastActivity returns the in-memory last-activity timestamp.
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// Close disarms timers and stops listening to the bus without logging out.
// Best-effort teardown on tab close is the caller's concern.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.disarmLocked()
	t.mu.Unlock()
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

func (t *Tracker) logout(reason Reason, publish bool) {
	now := t.now()

	t.mu.Lock()
	if !t.authenticated {
		t.mu.Unlock()
		return
	}
	t.authenticated = false
	t.disarmLocked()
	if publish {
		t.lastPublished = now.UnixMilli()
	}
	t.mu.Unlock()

	if publish {
		if err := t.bus.Publish(now); err != nil {
			t.log.Warn("logout broadcast failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.auth.SignOut(ctx); err != nil {
		// Local state is already cleared; a timed-out session must never
		// appear active just because the remote call failed.
		t.log.Warn("remote sign-out failed", zap.Error(err))
	}

	if t.logouts != nil {
		t.logouts.WithLabelValues(string(reason)).Inc()
	}
	t.log.Info("logged out", zap.String("reason", string(reason)))
}

func (t *Tracker) onBroadcast(ts time.Time) {
	t.mu.Lock()
	own := ts.UnixMilli() <= t.lastPublished
	t.mu.Unlock()
	if own {
		return
	}
	// Another tab logged out; follow it without re-broadcasting.
	t.logout(ReasonRemote, false)
}

func (t *Tracker) armInactivityLocked() {
	t.disarmLocked()
	t.timerKind = TimerInactivity
	gen := t.generation
	t.timer = time.AfterFunc(t.timeout, func() { t.fire(gen, ReasonInactivity) })
}

func (t *Tracker) armHiddenLocked() {
	t.disarmLocked()
	t.timerKind = TimerHidden
	gen := t.generation
	t.timer = time.AfterFunc(t.hiddenTimeout, func() { t.fire(gen, ReasonTabHidden) })
}

func (t *Tracker) disarmLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerKind = TimerNone
	t.generation++
}

// fire runs in the timer goroutine. The generation check drops firings that
// lost a race with a disarm or re-arm.
func (t *Tracker) fire(gen uint64, reason Reason) {
	t.mu.Lock()
	if gen != t.generation || !t.authenticated {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.logout(reason, true)
}
