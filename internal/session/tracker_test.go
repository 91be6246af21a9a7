package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpine/sitemedia/internal/broadcast"
)

type fakeAuth struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeAuth) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingBus struct {
	broadcast.Bus
	publishes int32
}

func (b *countingBus) Publish(ts time.Time) error {
	atomic.AddInt32(&b.publishes, 1)
	return b.Bus.Publish(ts)
}

func logoutCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_logouts_total"},
		[]string{"reason"},
	)
}

func reasonCount(c *prometheus.CounterVec, reason Reason) float64 {
	return testutil.ToFloat64(c.WithLabelValues(string(reason)))
}

func TestStaleSessionLogsOutBeforeArmingTimers(t *testing.T) {
	auth := &fakeAuth{}
	store := NewMemoryActivityStore()
	counter := logoutCounter()

	now := time.Now()
	timeout := 30 * time.Minute
	store.Seed(now.Add(-(timeout + time.Millisecond)))

	tr := New(Config{
		Timeout: timeout,
		Auth:    auth,
		Bus:     broadcast.NewMemoryBus(),
		Store:   store,
		Logouts: counter,
		Now:     func() time.Time { return now },
	})
	defer tr.Close()

	assert.False(t, tr.Authenticated())
	assert.Equal(t, TimerNone, tr.ArmedTimer(), "no timer may be armed after a stale-session logout")
	assert.Equal(t, 1, auth.signOuts())
	assert.Equal(t, 1.0, reasonCount(counter, ReasonStale))
}

func TestFreshSessionArmsInactivityTimer(t *testing.T) {
	tr := New(Config{
		Timeout: time.Minute,
		Auth:    &fakeAuth{},
		Bus:     broadcast.NewMemoryBus(),
		Store:   NewMemoryActivityStore(),
	})
	defer tr.Close()

	assert.True(t, tr.Authenticated())
	assert.Equal(t, TimerInactivity, tr.ArmedTimer())
}

func TestActivityJustBeforeDeadlineRearms(t *testing.T) {
	auth := &fakeAuth{}
	counter := logoutCounter()
	timeout := 80 * time.Millisecond

	tr := New(Config{
		Timeout: timeout,
		Auth:    auth,
		Bus:     broadcast.NewMemoryBus(),
		Store:   NewMemoryActivityStore(),
		Logouts: counter,
	})
	defer tr.Close()

	// Activity shortly before the original deadline pushes it out.
	time.Sleep(50 * time.Millisecond)
	tr.RecordActivity()

	// Past the original deadline: still signed in.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, tr.Authenticated(), "re-armed timer must not fire at the original deadline")

	// Past the re-armed deadline: logged out for inactivity.
	require.Eventually(t, func() bool { return !tr.Authenticated() },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, reasonCount(counter, ReasonInactivity))
	assert.Equal(t, TimerNone, tr.ArmedTimer())
}

func TestHiddenTabTimerFires(t *testing.T) {
	counter := logoutCounter()
	tr := New(Config{
		Timeout:       time.Minute,
		HiddenTimeout: 40 * time.Millisecond,
		Auth:          &fakeAuth{},
		Bus:           broadcast.NewMemoryBus(),
		Store:         NewMemoryActivityStore(),
		Logouts:       counter,
	})
	defer tr.Close()

	tr.SetVisible(false)
	assert.Equal(t, TimerHidden, tr.ArmedTimer())

	require.Eventually(t, func() bool { return !tr.Authenticated() },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, reasonCount(counter, ReasonTabHidden))
}

func TestShowingTabCancelsHiddenTimer(t *testing.T) {
	counter := logoutCounter()
	tr := New(Config{
		Timeout:       time.Minute,
		HiddenTimeout: 40 * time.Millisecond,
		Auth:          &fakeAuth{},
		Bus:           broadcast.NewMemoryBus(),
		Store:         NewMemoryActivityStore(),
		Logouts:       counter,
	})
	defer tr.Close()

	tr.SetVisible(false)
	tr.SetVisible(true)
	assert.Equal(t, TimerInactivity, tr.ArmedTimer(), "showing the tab swaps back to the inactivity timer")

	// Well past the hidden window: no logout happened.
	time.Sleep(80 * time.Millisecond)
	assert.True(t, tr.Authenticated())
	assert.Equal(t, 0.0, reasonCount(counter, ReasonTabHidden))
}

func TestCrossTabLogoutRunsExactlyOnce(t *testing.T) {
	shared := broadcast.NewMemoryBus()
	busA := &countingBus{Bus: shared}
	busB := &countingBus{Bus: shared}
	authA := &fakeAuth{}
	authB := &fakeAuth{}

	tabA := New(Config{Timeout: time.Minute, Auth: authA, Bus: busA, Store: NewMemoryActivityStore()})
	defer tabA.Close()
	tabB := New(Config{Timeout: time.Minute, Auth: authB, Bus: busB, Store: NewMemoryActivityStore()})
	defer tabB.Close()

	tabA.Logout(ReasonManual)

	require.Eventually(t, func() bool { return !tabB.Authenticated() },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, authA.signOuts())
	assert.Equal(t, 1, authB.signOuts())
	assert.EqualValues(t, 1, atomic.LoadInt32(&busA.publishes))
	assert.EqualValues(t, 0, atomic.LoadInt32(&busB.publishes), "the consuming tab must not re-broadcast")
}

func TestLogoutIsIdempotent(t *testing.T) {
	auth := &fakeAuth{}
	tr := New(Config{Timeout: time.Minute, Auth: auth, Bus: broadcast.NewMemoryBus(), Store: NewMemoryActivityStore()})
	defer tr.Close()

	tr.Logout(ReasonManual)
	tr.Logout(ReasonManual)
	assert.Equal(t, 1, auth.signOuts())
}

func TestFailedRemoteSignOutStillClearsLocalState(t *testing.T) {
	auth := &fakeAuth{err: errors.New("network down")}
	tr := New(Config{Timeout: time.Minute, Auth: auth, Bus: broadcast.NewMemoryBus(), Store: NewMemoryActivityStore()})
	defer tr.Close()

	tr.Logout(ReasonManual)
	assert.False(t, tr.Authenticated())
	assert.Equal(t, TimerNone, tr.ArmedTimer())
}

func TestActivityAfterLogoutIsIgnored(t *testing.T) {
	tr := New(Config{Timeout: time.Minute, Auth: &fakeAuth{}, Bus: broadcast.NewMemoryBus(), Store: NewMemoryActivityStore()})
	defer tr.Close()

	tr.Logout(ReasonManual)
	tr.RecordActivity()
	assert.Equal(t, TimerNone, tr.ArmedTimer())
	assert.False(t, tr.Authenticated())
}

func TestActivityPersistsTimestamp(t *testing.T) {
	store := NewMemoryActivityStore()
	tr := New(Config{Timeout: time.Minute, Auth: &fakeAuth{}, Bus: broadcast.NewMemoryBus(), Store: store})
	defer tr.Close()

	tr.RecordActivity()
	ts, ok := store.LastActivity()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, time.Second)
}
