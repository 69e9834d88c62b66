// Package history persists archived extraction outcomes to a JSON file.
//
// All writes go through a single writer goroutine so that concurrent workers
// never interleave file writes.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zombar/matchscheduler/models"
)

// ErrPersist wraps every failure to write the history file
var ErrPersist = errors.New("failed to persist extraction history")

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("history store closed")

type writeRequest struct {
	entry *models.ExtractionHistory // nil means flush only
	reply chan error
}

// Store is an append-only list of history entries mirrored to a JSON file
type Store struct {
	path string

	mu      sync.RWMutex
	entries []models.ExtractionHistory
	dirty   bool

	requests  chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
}

// Open loads the history file at path and starts the writer. A missing file is
// an empty history. A read or parse failure is returned together with a usable
// empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:     path,
		requests: make(chan writeRequest),
		done:     make(chan struct{}),
	}

	loadErr := s.load()
	go s.run()

	return s, loadErr
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []models.ExtractionHistory
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse history file: %w", err)
	}
	s.entries = entries
	return nil
}

func (s *Store) run() {
	defer close(s.done)
	for req := range s.requests {
		if req.entry != nil {
			s.mu.Lock()
			s.entries = append(s.entries, *req.entry)
			s.dirty = true
			s.mu.Unlock()
		}
		req.reply <- s.writeIfDirty()
	}
}

// writeIfDirty rewrites the whole file. Only the writer goroutine calls it.
func (s *Store) writeIfDirty() error {
	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		slog.Default().Error("history write failed, will retry on next write", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) send(req writeRequest) (err error) {
	defer func() {
		// send on a closed channel
		if recover() != nil {
			err = ErrClosed
		}
	}()
	s.requests <- req
	return <-req.reply
}

// Append adds entry and persists the full history. On a write failure the entry
// is kept in memory and the error wraps ErrPersist.
func (s *Store) Append(entry models.ExtractionHistory) error {
	return s.send(writeRequest{entry: &entry, reply: make(chan error, 1)})
}

// Flush retries a previously failed write
func (s *Store) Flush() error {
	return s.send(writeRequest{reply: make(chan error, 1)})
}

// Entries returns a copy of all entries in append order
func (s *Store) Entries() []models.ExtractionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExtractionHistory, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
		out[i].Config = e.Config.Clone()
		out[i].Progress = e.Progress.Clone()
	}
	return out
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the writer after attempting a final flush
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Flush()
		close(s.requests)
		<-s.done
	})
	return err
}
