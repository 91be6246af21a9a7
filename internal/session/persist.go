package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityStore persists the last-activity timestamp across tab loads so a
// reopened tab cannot resume a session past its timeout.
type ActivityStore interface {
	// LastActivity reports the persisted timestamp, false when none exists.
	LastActivity() (time.Time, bool)
	SetLastActivity(ts time.Time) error
}

// FileActivityStore keeps the timestamp in a small JSON file.
type FileActivityStore struct {
	path string
	mu   sync.Mutex
}

type activityFile struct {
	LastActivityMillis int64 `json:"last_activity_ms"`
}

func NewFileActivityStore(path string) (*FileActivityStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create activity dir: %w", err)
	}
	return &FileActivityStore{path: path}, nil
}

func (s *FileActivityStore) LastActivity() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, false
	}
	var f activityFile
	if err := json.Unmarshal(data, &f); err != nil || f.LastActivityMillis == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(f.LastActivityMillis), true
}

func (s *FileActivityStore) SetLastActivity(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(activityFile{LastActivityMillis: ts.UnixMilli()})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// MemoryActivityStore is the in-process equivalent, for tests and callers
// that do not want persistence.
type MemoryActivityStore struct {
	mu  sync.Mutex
	ts  time.Time
	set bool
}

func NewMemoryActivityStore() *MemoryActivityStore { return &MemoryActivityStore{} }

// Seed pre-populates the store, as if a previous tab had persisted ts.
func (s *MemoryActivityStore) Seed(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts = ts
	s.set = true
}

func (s *MemoryActivityStore) LastActivity() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ts, s.set
}

func (s *MemoryActivityStore) SetLastActivity(ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts = ts
	s.set = true
	return nil
}
