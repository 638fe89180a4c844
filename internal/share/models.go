// Package share manages token-scoped shares: opaque bearer tokens that grant
// a remote editor access to exactly one path at a fixed permission mode, with
// a fixed expiry. Every WOPI request authenticates with one of these tokens.
package share

import (
	"context"
	"errors"
	"time"
)

// Mode is the permission level a share grants.
type Mode string

const (
	// ModeReadonly grants read access only.
	ModeReadonly Mode = "readonly"

	// ModeWritable grants full write access including save-as into the
	// surrounding directory.
	ModeWritable Mode = "writable"

	// ModeSharedWritable grants write access to the shared content but
	// forbids filesystem traversal: no rename, no save-as. Used when a
	// single file is handed to a third party.
	ModeSharedWritable Mode = "shared-writable"
)

// ValidMode reports whether m is a known mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeReadonly, ModeWritable, ModeSharedWritable:
		return true
	}
	return false
}

// Writable reports whether the mode permits content writes.
func (m Mode) Writable() bool {
	return m == ModeWritable || m == ModeSharedWritable
}

var (
	ErrInvalidToken     = errors.New("invalid share token")
	ErrExpired          = errors.New("share expired")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

// Share is one issued token. The numeric ID doubles as the fallback file
// identity for backends without intrinsic identifiers.
type Share struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Token   string `gorm:"uniqueIndex;size:64;not null" json:"token"`
	Path    string `gorm:"index;not null" json:"path"`
	OwnerID string `gorm:"index;not null" json:"owner_id"`

	// With is the impersonation session token the share is bound to.
	With string `gorm:"column:with_session;size:64" json:"with,omitempty"`

	Mode Mode `gorm:"size:32;not null" json:"mode"`

	// Root is the mount root of the impersonated view. For writable
	// shares on a file this is the containing directory, so save-as can
	// create siblings; otherwise it is the shared path itself.
	Root string `gorm:"not null" json:"root"`

	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the share's expiry has passed.
func (s *Share) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Repo is the persistence contract for shares. Implementations live behind
// the store driver registry.
type Repo interface {
	// Create persists a new share and fills in its numeric ID.
	Create(ctx context.Context, s *Share) error

	// GetByToken returns the share for a token. ErrNotFound when absent.
	GetByToken(ctx context.Context, token string) (*Share, error)

	// GetByID returns the share with the given numeric ID.
	GetByID(ctx context.Context, id uint64) (*Share, error)

	// MinActiveIDByPath returns the lowest numeric ID among unexpired
	// shares for exactly this path. ErrNotFound when none exist.
	MinActiveIDByPath(ctx context.Context, path string) (uint64, error)

	// UpdateWith rebinds a share to a different session token.
	UpdateWith(ctx context.Context, token, with string) error

	// Replace atomically deletes the share behind oldToken and creates
	// newShare. The old token must stop resolving the moment the new one
	// starts.
	Replace(ctx context.Context, oldToken string, newShare *Share) error

	// Delete removes a share by token.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes all shares expired before now and reports
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
