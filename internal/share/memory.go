package share

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory share repository.
type MemoryRepo struct {
	mu      sync.RWMutex
	byToken map[string]*Share
	byID    map[uint64]*Share
	nextID  uint64
}

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byToken: make(map[string]*Share),
		byID:    make(map[uint64]*Share),
		nextID:  1,
	}
}

func (r *MemoryRepo) createLocked(s *Share) {
	if s.ID == 0 {
		s.ID = r.nextID
		r.nextID++
	} else if s.ID >= r.nextID {
		r.nextID = s.ID + 1
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.byToken[s.Token] = &cp
	r.byID[s.ID] = &cp
}

func (r *MemoryRepo) Create(ctx context.Context, s *Share) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createLocked(s)
	return nil
}

func (r *MemoryRepo) GetByToken(ctx context.Context, token string) (*Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id uint64) (*Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepo) MinActiveIDByPath(ctx context.Context, path string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var min uint64
	for _, s := range r.byToken {
		if s.Path != path || s.Expired() {
			continue
		}
		if min == 0 || s.ID < min {
			min = s.ID
		}
	}
	if min == 0 {
		return 0, ErrNotFound
	}
	return min, nil
}

func (r *MemoryRepo) UpdateWith(ctx context.Context, token, with string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return ErrNotFound
	}
	s.With = with
	return nil
}

func (r *MemoryRepo) Replace(ctx context.Context, oldToken string, newShare *Share) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byToken[oldToken]
	if !ok {
		return ErrNotFound
	}
	delete(r.byToken, oldToken)
	delete(r.byID, old.ID)
	r.createLocked(newShare)
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return ErrNotFound
	}
	delete(r.byToken, token)
	delete(r.byID, s.ID)
	return nil
}

func (r *MemoryRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.byToken {
		if now.After(s.ExpiresAt) {
			delete(r.byToken, token)
			delete(r.byID, s.ID)
			n++
		}
	}
	return n, nil
}

var _ Repo = (*MemoryRepo)(nil)
