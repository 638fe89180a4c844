// Package store provides persistence drivers for shares and sealed
// credentials, selected by name through a registry.
package store

import (
	"context"
	"errors"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/share"
)

// Common errors for store operations.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, open files).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string

	// Shares returns the share repository.
	Shares() share.Repo

	// Credentials returns the sealed-credential repository.
	Credentials() credentials.Repo
}
