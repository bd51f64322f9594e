package billing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. It
// enforces the same version-stamped compare-and-swap semantics as the Mongo
// implementation so concurrency behavior is identical across backends.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[uuid.UUID]*UserBillingRecord
	byCustomer map[string]uuid.UUID
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[uuid.UUID]*UserBillingRecord),
		byCustomer: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Get(ctx context.Context, userID uuid.UUID) (*UserBillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindByCustomerID(ctx context.Context, customerID string) (*UserBillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byCustomer[customerID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *UserBillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.UserID]
	if rec.Version == 0 {
		if exists {
			return ErrVersionConflict
		}
	} else {
		if !exists || current.Version != rec.Version {
			return ErrVersionConflict
		}
	}

	rec.Version++
	stored := cloneRecord(rec)
	s.records[rec.UserID] = stored
	if stored.ExternalCustomerID != "" {
		s.byCustomer[stored.ExternalCustomerID] = stored.UserID
	}
	return nil
}
