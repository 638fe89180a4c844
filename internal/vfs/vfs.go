// Package vfs defines the virtual filesystem contract the WOPI layer is built
// on: stat/read/write, per-path properties, an advisory lock primitive, and
// stable numeric file identities across versioned writes.
package vfs

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a path, ID, or property does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermission is returned when an operation is denied by the
	// filesystem view (read-only scope, path outside the mount).
	ErrPermission = errors.New("permission denied")

	// ErrNoIntrinsicID is returned by backends that expose no native file
	// identifier for a path (network mounts). Callers fall back to
	// share-derived identities.
	ErrNoIntrinsicID = errors.New("no intrinsic file id")

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("is a directory")
)

// FileInfo describes a file as seen by the storage layer.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	OwnerID string

	// Version counts stored version entries for the file. Writes bump it
	// unless version recording is suppressed.
	Version int

	// ID is the intrinsic identifier, 0 when the backend has none.
	ID uint64
}

// Lock is an advisory exclusive write lock on one path.
type Lock struct {
	Path    string    `json:"path"`
	Token   string    `json:"token"`
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

// Expired reports whether the lock's TTL has lapsed.
func (l *Lock) Expired() bool {
	return time.Now().After(l.Expires)
}

// WriteOptions controls version recording on writes.
type WriteOptions struct {
	// SuppressVersion asks the backend not to record a new version entry
	// for this write. Used to coalesce autosave bursts.
	SuppressVersion bool
}

// Filesystem is the storage abstraction the protocol layer depends on.
// Implementations must be safe for concurrent use.
type Filesystem interface {
	// Stat returns file information. ErrNotFound if the path is absent.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Open returns a reader over the current content.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile replaces the content at path, creating the file if absent.
	// Returns the resulting file info.
	WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) (*FileInfo, error)

	// Exists reports whether the path exists.
	Exists(ctx context.Context, path string) bool

	// IsDir reports whether the path is a directory.
	IsDir(ctx context.Context, path string) bool

	// IsWritable reports whether the path accepts writes through this view.
	IsWritable(ctx context.Context, path string) bool

	// GetProp reads a named property on a path. ErrNotFound when unset.
	GetProp(ctx context.Context, path, name string) (string, error)

	// SetProp stores a named property on a path.
	SetProp(ctx context.Context, path, name, value string) error

	// RemoveProp clears a named property. Clearing an unset property is
	// not an error.
	RemoveProp(ctx context.Context, path, name string) error

	// CheckLock returns the active lock on a path, or nil when unlocked.
	CheckLock(ctx context.Context, path string) (*Lock, error)

	// Lock acquires or refreshes an advisory lock. Succeeds when the path
	// is unlocked, or when refresh is true and the held token matches.
	Lock(ctx context.Context, path, token, owner string, ttl time.Duration, refresh bool) (bool, error)

	// Unlock releases a lock if the token matches the holder.
	Unlock(ctx context.Context, path, token string) (bool, error)

	// FileID returns the minimal intrinsic identifier across all stored
	// versions of a path, so the identity stays stable across version
	// bumps. ErrNoIntrinsicID when the backend has no native IDs.
	FileID(ctx context.Context, path string) (uint64, error)

	// PathByID resolves an intrinsic identifier back to a path. Old
	// version entries resolve to their version-named copies.
	PathByID(ctx context.Context, id uint64) (string, error)

	// Close releases backend resources.
	Close() error
}
