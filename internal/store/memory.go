package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ChannelStore and OrderStore.
// It backs unit tests and local development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]ChannelRecord
	orders   map[string]OrderRecord
}

var (
	_ ChannelStore = (*MemoryStore)(nil)
	_ OrderStore   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]ChannelRecord),
		orders:   make(map[string]OrderRecord),
	}
}

// ListChannels returns all channel records, oldest first.
func (s *MemoryStore) ListChannels(_ context.Context) ([]ChannelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]ChannelRecord, 0, len(s.channels))
	for _, rec := range s.channels {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ChannelID < records[j].ChannelID
	})
	return records, nil
}

// CreateChannel persists a new channel record.
func (s *MemoryStore) CreateChannel(_ context.Context, rec ChannelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[rec.ChannelID]; exists {
		return fmt.Errorf("channel %s already exists", rec.ChannelID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.channels[rec.ChannelID] = rec
	return nil
}

// DeleteChannel removes the record with the given channel id.
func (s *MemoryStore) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[channelID]; !exists {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	delete(s.channels, channelID)
	return nil
}

// UpsertOrders applies the whole batch atomically under the store lock.
func (s *MemoryStore) UpsertOrders(_ context.Context, orders []OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range orders {
		s.orders[o.ExternalID] = o
	}
	return nil
}

// GetOrder returns the record with the given external id.
func (s *MemoryStore) GetOrder(_ context.Context, externalID string) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[externalID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", externalID, ErrNotFound)
	}
	return &rec, nil
}

// OrderCount returns the number of stored orders.
func (s *MemoryStore) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
