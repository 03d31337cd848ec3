package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileState is the on-disk layout of the JSON fingerprint file.
type fileState struct {
	Version     int              `json:"version"`
	SavedAt     time.Time        `json:"saved_at"`
	Fingerprint map[string]Entry `json:"fingerprints"`
}

// FileStore keeps fingerprints in a single JSON file, rewritten atomically on every SetLast.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// NewFileStore loads the fingerprint file at path, or starts empty if it does not exist.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	for id, e := range st.Fingerprint {
		e.ChatID = id
		s.entries[id] = e
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) GetLast(_ context.Context, chatID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chatID]
	return e.Fingerprint, ok, nil
}

func (s *FileStore) SetLast(_ context.Context, chatID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[chatID]
	s.entries[chatID] = Entry{ChatID: chatID, Fingerprint: fingerprint, UpdatedAt: time.Now().UTC()}
	if err := s.save(); err != nil {
		if had {
			s.entries[chatID] = prev
		} else {
			delete(s.entries, chatID)
		}
		return err
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (s *FileStore) Close() error { return nil }

// save must be called with s.mu held.
func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(fileState{
		Version:     1,
		SavedAt:     time.Now().UTC(),
		Fingerprint: s.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	committed = true
	return nil
}
