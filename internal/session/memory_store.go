package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	info      Info
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when no Redis URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	info.UpdatedAt = now.UTC()
	s.records[sessionID] = memoryRecord{info: info, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, record := range s.records {
		if now.After(record.expiresAt) {
			delete(s.records, key)
		}
	}
	record, ok := s.records[sessionID]
	if !ok {
		return Info{}, ErrNotFound
	}
	record.expiresAt = now.Add(s.ttl)
	s.records[sessionID] = record
	return record.info, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
