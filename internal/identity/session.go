package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// Session represents an active user session. A session restored for a WOPI
// request is marked Restored so verification trusts the persisted record
// instead of re-running a login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Restored  bool      `json:"restored"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionRepo provides session storage operations.
type SessionRepo interface {
	// Create creates a new session for the user.
	Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound if not
	// found, ErrSessionExpired if past expiry.
	Get(ctx context.Context, token string) (*Session, error)

	// Restore retrieves a session by token like Get, but marks the returned
	// session as restored without touching its expiry. Used for WOPI
	// impersonation, where the caller holds a capability token instead of
	// the user's credentials.
	Restore(ctx context.Context, token string) (*Session, error)

	// Delete removes a session (logout).
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes all expired sessions.
	DeleteExpired(ctx context.Context) (int, error)
}

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// MemorySessionRepo is an in-memory implementation of SessionRepo.
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionRepo creates a new in-memory session repository.
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]*Session),
	}
}

func (r *MemorySessionRepo) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = session

	return session, nil
}

func (r *MemorySessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (r *MemorySessionRepo) Restore(ctx context.Context, token string) (*Session, error) {
	session, err := r.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	restored := *session
	restored.Restored = true
	return &restored, nil
}

func (r *MemorySessionRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int
	now := time.Now()
	for token, session := range r.sessions {
		if now.After(session.ExpiresAt) {
			delete(r.sessions, token)
			count++
		}
	}
	return count, nil
}
