package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/org/journalgate/pkg/models"
)

// MemoryStore is an in-process Backend. Flags do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	flags  map[string]string
	events []*models.GateEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: map[string]string{}}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.flags[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = value
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, key)
	return nil
}

func (m *MemoryStore) WriteEvent(ctx context.Context, event *models.GateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *event
	m.events = append(m.events, &e)
	return nil
}

// QueryEvents returns matching events, newest first.
func (m *MemoryStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.GateEvent, error) {
	m.mu.RLock()
	var matched []*models.GateEvent
	for _, e := range m.events {
		if filter.Operation != "" && e.Operation != filter.Operation {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		c := *e
		matched = append(matched, &c)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if n := filter.limit(); len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

func (m *MemoryStore) Close() {}
