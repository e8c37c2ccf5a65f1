package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process memory. Used in tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	fingerprint string
	done        bool
	response    StoredResponse
	expiresAt   time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || !now.Before(record.expiresAt) {
		s.records[key] = memoryRecord{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return OutcomeReserved, StoredResponse{}, nil
	}
	if record.fingerprint != fingerprint {
		return 0, StoredResponse{}, ErrFingerprintMismatch
	}
	if record.done {
		return OutcomeReplay, record.response, nil
	}
	return OutcomeInFlight, StoredResponse{}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[key]; ok && record.fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	resp.Body = append([]byte(nil), resp.Body...)
	s.records[key] = memoryRecord{fingerprint: fingerprint, done: true, response: resp, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
