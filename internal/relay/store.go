package relay

import (
	"context"
	"sync"

	"signalrelay/internal/metrics"
)

// Store maps a source message id to the id of its forwarded copy.
// At most one destination id exists per source id.
//
// Remove forgets a record so the id can be relayed again. MarkRemoved ends
// the id for good: Lookup no longer finds it, Record ignores it, and
// IsRemoved reports it.
type Store interface {
	Record(ctx context.Context, sourceID, destID int) error
	Lookup(ctx context.Context, sourceID int) (int, bool, error)
	Remove(ctx context.Context, sourceID int) error
	MarkRemoved(ctx context.Context, sourceID int) error
	IsRemoved(ctx context.Context, sourceID int) (bool, error)
	Close() error
}

// MemoryStore is the default Store. Records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int]int
	removed map[int]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int]int), removed: make(map[int]struct{})}
}

func (s *MemoryStore) Record(_ context.Context, sourceID, destID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.removed[sourceID]; gone {
		return nil
	}
	s.records[sourceID] = destID
	metrics.RelayRecords.Set(int64(len(s.records)))
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, sourceID int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.records[sourceID]
	return id, ok, nil
}

func (s *MemoryStore) Remove(_ context.Context, sourceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sourceID)
	metrics.RelayRecords.Set(int64(len(s.records)))
	return nil
}

func (s *MemoryStore) MarkRemoved(_ context.Context, sourceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sourceID)
	s.removed[sourceID] = struct{}{}
	metrics.RelayRecords.Set(int64(len(s.records)))
	return nil
}

func (s *MemoryStore) IsRemoved(_ context.Context, sourceID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, gone := s.removed[sourceID]
	return gone, nil
}

// Len returns the number of live records held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }
