// Package working implements the bounded short-term memory buffer. Each
// (userID, agentID) key holds at most capacity records; exceeding it evicts
// the oldest first.
package working

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketmind/memoryd/internal/model"
)

// Store is an in-process working-memory buffer keyed by (userID, agentID).
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*buffer
}

type buffer struct {
	records []model.MemoryRecord
	nextSeq uint64
}

// NewStore creates a Store holding at most capacity records per key.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 50
	}
	return &Store{capacity: capacity, buffers: make(map[string]*buffer)}
}

func key(userID, agentID string) string { return userID + "\x00" + agentID }

func validateKey(userID, agentID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	if agentID == "" {
		return fmt.Errorf("%w: agentId is required", model.ErrValidation)
	}
	return nil
}

// Add appends a record and returns its generated ID, evicting the oldest
// record when the key is at capacity.
func (s *Store) Add(userID, agentID string, role model.Role, content string, metadata map[string]any) (string, error) {
	if err := validateKey(userID, agentID); err != nil {
		return "", err
	}
	if !model.ValidRole(role) {
		return "", fmt.Errorf("%w: unknown role %q", model.ErrValidation, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key(userID, agentID)]
	if !ok {
		b = &buffer{records: make([]model.MemoryRecord, 0, s.capacity)}
		s.buffers[key(userID, agentID)] = b
	}

	rec := model.MemoryRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
		Seq:       b.nextSeq,
	}
	b.nextSeq++

	b.records = append(b.records, rec)
	if len(b.records) > s.capacity {
		// FIFO eviction.
		b.records = b.records[len(b.records)-s.capacity:]
	}
	return rec.ID, nil
}

// GetRecent returns up to n most recent records for the key in chronological
// order. n <= 0 means all retained records.
func (s *Store) GetRecent(userID, agentID string, n int) ([]model.MemoryRecord, error) {
	if err := validateKey(userID, agentID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buffers[key(userID, agentID)]
	if !ok {
		return []model.MemoryRecord{}, nil
	}
	recs := b.records
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	out := make([]model.MemoryRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Snapshot returns a copy of all retained records for the key, oldest first.
func (s *Store) Snapshot(userID, agentID string) ([]model.MemoryRecord, error) {
	return s.GetRecent(userID, agentID, 0)
}

// Clear removes all records for the key.
func (s *Store) Clear(userID, agentID string) error {
	if err := validateKey(userID, agentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, key(userID, agentID))
	return nil
}

// ClearThrough removes records with Seq <= lastSeq, leaving anything appended
// after the snapshot was taken. Used by consolidation so turns recorded while
// a task is in flight survive the trim.
func (s *Store) ClearThrough(userID, agentID string, lastSeq uint64) error {
	if err := validateKey(userID, agentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[key(userID, agentID)]
	if !ok {
		return nil
	}
	kept := b.records[:0]
	for _, r := range b.records {
		if r.Seq > lastSeq {
			kept = append(kept, r)
		}
	}
	b.records = kept
	if len(b.records) == 0 {
		delete(s.buffers, key(userID, agentID))
	}
	return nil
}

// Len reports the number of retained records for the key.
func (s *Store) Len(userID, agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[key(userID, agentID)]
	if !ok {
		return 0
	}
	return len(b.records)
}
