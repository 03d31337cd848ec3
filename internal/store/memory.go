package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) GetLast(_ context.Context, chatID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[chatID]
	return e.Fingerprint, ok, nil
}

func (m *MemoryStore) SetLast(_ context.Context, chatID, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[chatID] = Entry{ChatID: chatID, Fingerprint: fingerprint, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ChatID < entries[j].ChatID
	})
}
