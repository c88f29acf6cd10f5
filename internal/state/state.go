// Package state persists which episodes have already been downloaded so a
// rerun can skip them.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type stateFile struct {
	Completed map[string]bool `json:"completed"`
	LastSync  time.Time       `json:"last_sync"`
}

// Store is a JSON file of completed media ids, guarded for shared use.
type Store struct {
	path string

	mu   sync.RWMutex
	data stateFile
}

// Open loads (or initializes) the download state under baseDir.
func Open(baseDir string) (*Store, error) {
	dir := filepath.Join(baseDir, ".coursecast")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{
		path: filepath.Join(dir, "state.json"),
		data: stateFile{Completed: make(map[string]bool)},
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt state file only costs re-checking episodes on disk.
		s.data = stateFile{Completed: make(map[string]bool)}
	}
	if s.data.Completed == nil {
		s.data.Completed = make(map[string]bool)
	}
	return s, nil
}

// Completed reports whether the media id finished downloading previously.
func (s *Store) Completed(mediaID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Completed[mediaID]
}

// MarkCompleted records the media id as done and saves the file.
func (s *Store) MarkCompleted(mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Completed[mediaID] = true
	s.data.LastSync = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
