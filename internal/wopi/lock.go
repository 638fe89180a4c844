package wopi

import (
	"context"
	"time"

	"github.com/opendochost/wopihost/internal/vfs"
)

// LockDuration is the sliding lock TTL: 30 minutes, per the WOPI protocol.
const LockDuration = 1800 * time.Second

// lockStore adapts the storage layer's advisory lock primitive to the three
// calls the protocol needs. No retries: a failed acquire or release is a
// definitive conflict.
type lockStore struct {
	fs vfs.Filesystem
}

// Check returns the active lock, or nil when unlocked.
func (l lockStore) Check(ctx context.Context, path string) (*vfs.Lock, error) {
	return l.fs.CheckLock(ctx, path)
}

// Acquire takes or refreshes the lock. Succeeds when no lock exists or the
// held token matches (refresh-in-place).
func (l lockStore) Acquire(ctx context.Context, path, token, owner string) (bool, error) {
	return l.fs.Lock(ctx, path, token, owner, LockDuration, false)
}

// Refresh extends the TTL only when the token matches a held lock.
func (l lockStore) Refresh(ctx context.Context, path, token, owner string) (bool, error) {
	return l.fs.Lock(ctx, path, token, owner, LockDuration, true)
}

// Release drops the lock when the stored token matches.
func (l lockStore) Release(ctx context.Context, path, token string) (bool, error) {
	return l.fs.Unlock(ctx, path, token)
}
