package vfs

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// Scoped is a confined view over a backend filesystem: paths outside the
// mount root are invisible, and writes are refused on read-only views.
// Every impersonated WOPI session gets its own Scoped instance; views are
// never shared across requests.
type Scoped struct {
	backend  Filesystem
	root     string
	writable bool
}

// Scope creates a confined view rooted at root. When root names a file, only
// that file is visible. The view is read-only unless writable is set.
func Scope(backend Filesystem, root string, writable bool) *Scoped {
	return &Scoped{
		backend:  backend,
		root:     strings.TrimSuffix(root, "/"),
		writable: writable,
	}
}

// Root returns the mount root of this view.
func (s *Scoped) Root() string {
	return s.root
}

// Writable reports whether this view accepts writes at all.
func (s *Scoped) Writable() bool {
	return s.writable
}

// allowed reports whether p falls inside the mount.
func (s *Scoped) allowed(ctx context.Context, p string) bool {
	p = path.Clean(p)
	if p == s.root {
		return true
	}
	if s.backend.IsDir(ctx, s.root) {
		return strings.HasPrefix(p, s.root+"/")
	}
	return false
}

func (s *Scoped) Stat(ctx context.Context, p string) (*FileInfo, error) {
	if !s.allowed(ctx, p) {
		return nil, ErrNotFound
	}
	return s.backend.Stat(ctx, p)
}

func (s *Scoped) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if !s.allowed(ctx, p) {
		return nil, ErrNotFound
	}
	return s.backend.Open(ctx, p)
}

func (s *Scoped) WriteFile(ctx context.Context, p string, r io.Reader, opts WriteOptions) (*FileInfo, error) {
	if !s.allowed(ctx, p) {
		return nil, ErrNotFound
	}
	if !s.writable {
		return nil, ErrPermission
	}
	return s.backend.WriteFile(ctx, p, r, opts)
}

func (s *Scoped) Exists(ctx context.Context, p string) bool {
	return s.allowed(ctx, p) && s.backend.Exists(ctx, p)
}

func (s *Scoped) IsDir(ctx context.Context, p string) bool {
	return s.allowed(ctx, p) && s.backend.IsDir(ctx, p)
}

func (s *Scoped) IsWritable(ctx context.Context, p string) bool {
	if !s.allowed(ctx, p) || !s.writable {
		return false
	}
	return s.backend.IsWritable(ctx, p)
}

func (s *Scoped) GetProp(ctx context.Context, p, name string) (string, error) {
	if !s.allowed(ctx, p) {
		return "", ErrNotFound
	}
	return s.backend.GetProp(ctx, p, name)
}

func (s *Scoped) SetProp(ctx context.Context, p, name, value string) error {
	if !s.allowed(ctx, p) {
		return ErrNotFound
	}
	if !s.writable {
		return ErrPermission
	}
	return s.backend.SetProp(ctx, p, name, value)
}

func (s *Scoped) RemoveProp(ctx context.Context, p, name string) error {
	if !s.allowed(ctx, p) {
		return ErrNotFound
	}
	if !s.writable {
		return ErrPermission
	}
	return s.backend.RemoveProp(ctx, p, name)
}

func (s *Scoped) CheckLock(ctx context.Context, p string) (*Lock, error) {
	if !s.allowed(ctx, p) {
		return nil, ErrNotFound
	}
	return s.backend.CheckLock(ctx, p)
}

func (s *Scoped) Lock(ctx context.Context, p, token, owner string, ttl time.Duration, refresh bool) (bool, error) {
	if !s.allowed(ctx, p) {
		return false, ErrNotFound
	}
	return s.backend.Lock(ctx, p, token, owner, ttl, refresh)
}

func (s *Scoped) Unlock(ctx context.Context, p, token string) (bool, error) {
	if !s.allowed(ctx, p) {
		return false, ErrNotFound
	}
	return s.backend.Unlock(ctx, p, token)
}

func (s *Scoped) FileID(ctx context.Context, p string) (uint64, error) {
	if !s.allowed(ctx, p) {
		return 0, ErrNotFound
	}
	return s.backend.FileID(ctx, p)
}

func (s *Scoped) PathByID(ctx context.Context, id uint64) (string, error) {
	p, err := s.backend.PathByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !s.allowed(ctx, p) {
		return "", ErrNotFound
	}
	return p, nil
}

// Backend exposes the unconfined filesystem. The file identity resolver
// needs it to inspect version-named copies before reconciling them against
// the token's path; nothing else should reach around the scope.
func (s *Scoped) Backend() Filesystem {
	return s.backend
}

func (s *Scoped) Close() error {
	// The backend outlives the view.
	return nil
}

var _ Filesystem = (*Scoped)(nil)
