// Package broadcast carries a one-way logout signal between tabs or
// processes sharing the same persistent storage. Each publish is a fresh
// timestamp, last write wins; consumers must tolerate duplicate delivery
// because logout is idempotent.
package broadcast

import (
	"sync"
	"time"
)

// Bus is the one-directional broadcast channel. Subscribe callbacks may be
// invoked from an internal goroutine; cancel stops further delivery.
type Bus interface {
	Publish(ts time.Time) error
	Subscribe(fn func(ts time.Time)) (cancel func())
	Close() error
}

// MemoryBus delivers synchronously within one process. Used by tests and by
// single-process deployments; every subscriber sees every publish,
// including the publisher's own.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(ts time.Time)
	last   time.Time
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(ts time.Time))}
}

func (b *MemoryBus) Publish(ts time.Time) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if ts.After(b.last) {
		b.last = ts
	}
	fns := make([]func(time.Time), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ts)
	}
	return nil
}

func (b *MemoryBus) Subscribe(fn func(ts time.Time)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Last returns the most recent published timestamp, or zero.
func (b *MemoryBus) Last() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(ts time.Time))
	return nil
}
