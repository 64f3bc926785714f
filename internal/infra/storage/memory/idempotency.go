package memory

import (
	"context"
	"sync"
	"time"

	"rentalcore/internal/app/middleware"
)

type IdempotencyStore struct {
	mu    sync.RWMutex
	items map[string]middleware.IdempotencyRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{items: make(map[string]middleware.IdempotencyRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	rec, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)

// Inbox remembers delivered effect keys for the in-process router.
type Inbox struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewInbox() *Inbox {
	return &Inbox{seen: make(map[string]time.Time)}
}

func (i *Inbox) Seen(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[key]
	return ok, nil
}

func (i *Inbox) Record(ctx context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[key]; !ok {
		i.seen[key] = time.Now().UTC()
	}
	return nil
}
