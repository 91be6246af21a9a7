package broadcast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultPollInterval = 250 * time.Millisecond

type flagFile struct {
	LogoutMillis int64 `json:"logout_ms"`
}

// FileBus persists the flag to a JSON file and polls it for writes made by
// other processes. A process is notified of publishes it did not make
// itself; its own publishes are delivered straight to local subscribers.
type FileBus struct {
	path string

	mu       sync.Mutex
	nextID   int
	subs     map[int]func(ts time.Time)
	lastSeen int64 // millis already delivered or self-published

	done     chan struct{}
	stopOnce sync.Once
}

// NewFileBus starts the poll loop immediately. interval <= 0 selects the
// default.
func NewFileBus(path string, interval time.Duration) (*FileBus, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create flag dir: %w", err)
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	b := &FileBus{
		path: path,
		subs: make(map[int]func(ts time.Time)),
		done: make(chan struct{}),
	}
	// A flag written before this process started is old news, not a logout
	// to replay.
	if flag, err := b.read(); err == nil {
		b.lastSeen = flag.LogoutMillis
	}
	go b.run(interval)
	return b, nil
}

func (b *FileBus) Publish(ts time.Time) error {
	millis := ts.UnixMilli()

	b.mu.Lock()
	if millis > b.lastSeen {
		b.lastSeen = millis
	}
	fns := b.snapshotSubs()
	b.mu.Unlock()

	if err := b.write(flagFile{LogoutMillis: millis}); err != nil {
		return err
	}
	for _, fn := range fns {
		fn(ts)
	}
	return nil
}

func (b *FileBus) Subscribe(fn func(ts time.Time)) func() {
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

func (b *FileBus) Close() error {
	b.stopOnce.Do(func() { close(b.done) })
	return nil
}

func (b *FileBus) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

func (b *FileBus) poll() {
	flag, err := b.read()
	if err != nil {
		return
	}

	b.mu.Lock()
	if flag.LogoutMillis <= b.lastSeen {
		b.mu.Unlock()
		return
	}
	b.lastSeen = flag.LogoutMillis
	fns := b.snapshotSubs()
	b.mu.Unlock()

	ts := time.UnixMilli(flag.LogoutMillis)
	for _, fn := range fns {
		fn(ts)
	}
}

func (b *FileBus) snapshotSubs() []func(ts time.Time) {
	fns := make([]func(ts time.Time), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (b *FileBus) read() (flagFile, error) {
	var flag flagFile
	data, err := os.ReadFile(b.path)
	if err != nil {
		return flag, err
	}
	err = json.Unmarshal(data, &flag)
	return flag, err
}

func (b *FileBus) write(flag flagFile) error {
	data, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
