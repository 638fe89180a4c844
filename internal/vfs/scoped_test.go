package vfs_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendochost/wopihost/internal/vfs"
	"github.com/opendochost/wopihost/internal/vfs/memory"
)

func seed(t *testing.T, paths map[string]string) *memory.Memory {
	t.Helper()
	m := memory.New()
	for p, content := range paths {
		_, err := m.WriteFile(context.Background(), p, strings.NewReader(content), vfs.WriteOptions{})
		require.NoError(t, err)
	}
	return m
}

func TestDirScopeConfinement(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{
		"/home/alice/doc.odt":    "inside",
		"/home/alice/sub/b.odt":  "deeper",
		"/home/bob/secret.odt":   "outside",
		"/home/alice-other/x.md": "sibling prefix",
	})

	s := vfs.Scope(m, "/home/alice", true)
	assert.Equal(t, "/home/alice", s.Root())
	assert.True(t, s.Writable())

	fi, err := s.Stat(ctx, "/home/alice/doc.odt")
	require.NoError(t, err)
	assert.Equal(t, "inside", readScoped(t, s, "/home/alice/doc.odt"))
	assert.NotZero(t, fi.ID)

	assert.True(t, s.Exists(ctx, "/home/alice/sub/b.odt"))

	// Outside the mount everything reads as absent, never as forbidden.
	_, err = s.Stat(ctx, "/home/bob/secret.odt")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	assert.False(t, s.Exists(ctx, "/home/bob/secret.odt"))

	// A sibling directory sharing the root as a string prefix is outside.
	assert.False(t, s.Exists(ctx, "/home/alice-other/x.md"))
}

func TestFileScopeIsExactMatchOnly(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{
		"/home/alice/doc.odt":   "target",
		"/home/alice/other.odt": "not shared",
	})

	s := vfs.Scope(m, "/home/alice/doc.odt", false)

	assert.True(t, s.Exists(ctx, "/home/alice/doc.odt"))
	assert.False(t, s.Exists(ctx, "/home/alice/other.odt"))
	assert.False(t, s.Exists(ctx, "/home/alice"))
}

func TestReadonlyScopeRefusesWrites(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{"/home/alice/doc.odt": "v1"})
	s := vfs.Scope(m, "/home/alice/doc.odt", false)

	_, err := s.WriteFile(ctx, "/home/alice/doc.odt", strings.NewReader("v2"), vfs.WriteOptions{})
	assert.ErrorIs(t, err, vfs.ErrPermission)

	assert.ErrorIs(t, s.SetProp(ctx, "/home/alice/doc.odt", "k", "v"), vfs.ErrPermission)
	assert.ErrorIs(t, s.RemoveProp(ctx, "/home/alice/doc.odt", "k"), vfs.ErrPermission)
	assert.False(t, s.IsWritable(ctx, "/home/alice/doc.odt"))

	// Content unchanged underneath.
	assert.Equal(t, "v1", readScoped(t, vfs.Scope(m, "/", true), "/home/alice/doc.odt"))
}

func TestWritableScopePassesThrough(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{"/home/alice/doc.odt": "v1"})
	s := vfs.Scope(m, "/home/alice", true)

	fi, err := s.WriteFile(ctx, "/home/alice/doc.odt", strings.NewReader("v2"), vfs.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, fi.Version)

	require.NoError(t, s.SetProp(ctx, "/home/alice/doc.odt", "k", "v"))
	got, err := s.GetProp(ctx, "/home/alice/doc.odt", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestScopedLocks(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{
		"/home/alice/doc.odt": "v1",
		"/home/bob/doc.odt":   "v1",
	})
	s := vfs.Scope(m, "/home/alice", true)

	ok, err := s.Lock(ctx, "/home/alice/doc.odt", "tok", "alice", time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := s.CheckLock(ctx, "/home/alice/doc.odt")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "tok", l.Token)

	_, err = s.Lock(ctx, "/home/bob/doc.odt", "tok", "alice", time.Minute, false)
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	ok, err = s.Unlock(ctx, "/home/alice/doc.odt", "tok")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPathByIDConfinedToScope(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{
		"/home/alice/doc.odt": "inside",
		"/home/bob/doc.odt":   "outside",
	})

	insideID, err := m.FileID(ctx, "/home/alice/doc.odt")
	require.NoError(t, err)
	outsideID, err := m.FileID(ctx, "/home/bob/doc.odt")
	require.NoError(t, err)

	s := vfs.Scope(m, "/home/alice", true)

	p, err := s.PathByID(ctx, insideID)
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/doc.odt", p)

	_, err = s.PathByID(ctx, outsideID)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestScopeCloseLeavesBackendOpen(t *testing.T) {
	ctx := context.Background()
	m := seed(t, map[string]string{"/f": "x"})
	s := vfs.Scope(m, "/f", false)

	require.NoError(t, s.Close())
	assert.True(t, m.Exists(ctx, "/f"))
}

func readScoped(t *testing.T, fs vfs.Filesystem, p string) string {
	t.Helper()
	rc, err := fs.Open(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	var sb strings.Builder
	buf := make([]byte, 512)
	for {
		n, err := rc.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}
