// Package identity provides user management, authentication, and session
// handling. Sessions are the unit of filesystem impersonation: a WOPI access
// token names a session here, never a raw credential.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidPassword = errors.New("invalid password")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionNotFound = errors.New("session not found")
)

// Role constants for user roles.
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleAnonymous = "anonymous"
)

// User represents an account in the system.
type User struct {
	ID           string    `json:"id"` // UUID
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"` // bcrypt hash, never serialized
	Role         string    `json:"role"`
	HomeDir      string    `json:"home_dir"` // user's root in the virtual filesystem
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin returns true if the user is an admin.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsAnonymous returns true for minted single-purpose share identities.
func (u *User) IsAnonymous() bool {
	return u.Role == RoleAnonymous
}

// PartyRepo provides user storage operations.
type PartyRepo interface {
	// Create creates a new user. Returns ErrUserExists if username is taken.
	Create(ctx context.Context, user *User) error

	// Get retrieves a user by ID. Returns ErrUserNotFound if not found.
	Get(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a user by username. Returns ErrUserNotFound if not found.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Delete removes a user by ID.
	Delete(ctx context.Context, id string) error
}

// UsernameOf returns the friendly name for a user ID, falling back to the ID
// itself when the account is unknown. WOPI reports this as UserFriendlyName.
func UsernameOf(ctx context.Context, repo PartyRepo, id string) string {
	user, err := repo.Get(ctx, id)
	if err != nil {
		return id
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Username
}

// NewID returns a fresh UUID string for identity records.
func NewID() string {
	return uuid.NewString()
}

// MemoryPartyRepo is an in-memory implementation of PartyRepo.
type MemoryPartyRepo struct {
	mu         sync.RWMutex
	users      map[string]*User // by ID
	byUsername map[string]string
}

// NewMemoryPartyRepo creates a new in-memory user repository.
func NewMemoryPartyRepo() *MemoryPartyRepo {
	return &MemoryPartyRepo{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
	}
}

func (r *MemoryPartyRepo) Create(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[user.Username]; ok {
		return ErrUserExists
	}

	r.users[user.ID] = user
	r.byUsername[user.Username] = user.ID
	return nil
}

func (r *MemoryPartyRepo) Get(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (r *MemoryPartyRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *MemoryPartyRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(r.byUsername, user.Username)
	delete(r.users, id)
	return nil
}
