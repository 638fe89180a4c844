package credentials

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepo is an in-memory credential store.
type MemoryRepo struct {
	mu    sync.RWMutex
	slots map[string]*Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{slots: make(map[string]*Record)}
}

func slotKey(shareToken string, idx int) string {
	return fmt.Sprintf("%s:%d", shareToken, idx)
}

func (r *MemoryRepo) Upsert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.slots[slotKey(rec.ShareToken, rec.Idx)] = &cp
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, shareToken string, idx int) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.slots[slotKey(shareToken, idx)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepo) DeleteByShare(ctx context.Context, shareToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.slots {
		if rec.ShareToken == shareToken {
			delete(r.slots, key)
		}
	}
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
