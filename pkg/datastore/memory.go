package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// MemoryStore provides an in-memory payout store for tests and dry runs.
// It mirrors the SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextID  int64
	payouts map[int64]model.PayoutRecord
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:     now,
		nextID:  1,
		payouts: make(map[int64]model.PayoutRecord),
	}
}

func (s *MemoryStore) NonTx() DataStore {
	return s
}

// Tx buffers updates and inserts until Commit.
func (s *MemoryStore) Tx(_ context.Context) (DataStoreTx, error) {
	return &memoryTx{store: s}, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// InsertPayout stores a copy of rec.
func (s *MemoryStore) InsertPayout(_ context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: insert payout: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	rec.CreatedAt = s.now()
	s.nextID++
	s.payouts[rec.ID] = *rec
	return nil
}

// UpdatePayout replaces the stored copy of rec.
func (s *MemoryStore) UpdatePayout(_ context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: update payout: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(rec)
}

func (s *MemoryStore) updateLocked(rec *model.PayoutRecord) error {
	existing, ok := s.payouts[rec.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, rec.ID)
	}
	updated := *rec
	updated.CreatedAt = existing.CreatedAt
	s.payouts[rec.ID] = updated
	return nil
}

// FindPayouts returns copies of matching records ordered by ID.
func (s *MemoryStore) FindPayouts(_ context.Context, limit int, filter model.PayoutFilter) ([]model.PayoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PayoutRecord
	for _, rec := range s.payouts {
		if filter.Match(&rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payouts)
}

type memoryTx struct {
	store   *MemoryStore
	updates []model.PayoutRecord
	inserts []*model.PayoutRecord
	done    bool
}

func (tx *memoryTx) FindPayouts(ctx context.Context, limit int, filter model.PayoutFilter) ([]model.PayoutRecord, error) {
	return tx.store.FindPayouts(ctx, limit, filter)
}

func (tx *memoryTx) InsertPayout(_ context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: insert payout: %w", err)
	}
	tx.inserts = append(tx.inserts, rec)
	return nil
}

func (tx *memoryTx) UpdatePayout(_ context.Context, rec *model.PayoutRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: update payout: %w", err)
	}
	tx.store.mu.RLock()
	_, ok := tx.store.payouts[rec.ID]
	tx.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, rec.ID)
	}
	tx.updates = append(tx.updates, *rec)
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return fmt.Errorf("datastore: transaction already finished")
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range tx.updates {
		if err := s.updateLocked(&tx.updates[i]); err != nil {
			return err
		}
	}
	for _, rec := range tx.inserts {
		rec.ID = s.nextID
		rec.CreatedAt = s.now()
		s.nextID++
		s.payouts[rec.ID] = *rec
	}
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.updates = nil
	tx.inserts = nil
	return nil
}
