package badger

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendochost/wopihost/internal/vfs"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, s *Store, p, content string, opts vfs.WriteOptions) *vfs.FileInfo {
	t.Helper()
	fi, err := s.WriteFile(context.Background(), p, strings.NewReader(content), opts)
	require.NoError(t, err)
	return fi
}

func readFile(t *testing.T, s *Store, p string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestBadgerWriteReadStat(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	fi := writeFile(t, s, "/home/alice/doc.odt", "hello", vfs.WriteOptions{})
	assert.Equal(t, int64(5), fi.Size)
	assert.Equal(t, 1, fi.Version)
	assert.NotZero(t, fi.ID)

	assert.True(t, s.IsDir(ctx, "/home/alice"))
	assert.Equal(t, "hello", readFile(t, s, "/home/alice/doc.odt"))

	got, err := s.Stat(ctx, "/home/alice/doc.odt")
	require.NoError(t, err)
	assert.Equal(t, fi.ID, got.ID)

	_, err = s.Stat(ctx, "/nope")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestBadgerVersioning(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	fi1 := writeFile(t, s, "/d/f.odt", "v1", vfs.WriteOptions{})
	fi2 := writeFile(t, s, "/d/f.odt", "v2", vfs.WriteOptions{})
	assert.NotEqual(t, fi1.ID, fi2.ID)
	assert.Equal(t, 2, fi2.Version)

	alias, err := s.PathByID(ctx, fi1.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "/d/f.odt", alias)
	assert.Equal(t, "v1", readFile(t, s, alias))

	id, err := s.FileID(ctx, "/d/f.odt")
	require.NoError(t, err)
	assert.Equal(t, fi1.ID, id)

	// Suppressed writes keep the identifier and version.
	fi3 := writeFile(t, s, "/d/f.odt", "v2-autosave", vfs.WriteOptions{SuppressVersion: true})
	assert.Equal(t, fi2.ID, fi3.ID)
	assert.Equal(t, 2, fi3.Version)
}

func TestBadgerProps(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	writeFile(t, s, "/f.odt", "x", vfs.WriteOptions{})

	_, err := s.GetProp(ctx, "/f.odt", "autosave")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	require.NoError(t, s.SetProp(ctx, "/f.odt", "autosave", "now"))
	v, err := s.GetProp(ctx, "/f.odt", "autosave")
	require.NoError(t, err)
	assert.Equal(t, "now", v)

	require.NoError(t, s.RemoveProp(ctx, "/f.odt", "autosave"))
	_, err = s.GetProp(ctx, "/f.odt", "autosave")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	assert.ErrorIs(t, s.SetProp(ctx, "/missing", "a", "b"), vfs.ErrNotFound)
}

func TestBadgerLocks(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	writeFile(t, s, "/f.odt", "x", vfs.WriteOptions{})

	ok, err := s.Lock(ctx, "/f.odt", "tok", "alice", time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := s.CheckLock(ctx, "/f.odt")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "tok", l.Token)

	ok, err = s.Lock(ctx, "/f.odt", "other", "bob", time.Minute, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Lock(ctx, "/f.odt", "tok", "alice", time.Minute, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Unlock(ctx, "/f.odt", "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	l, err = s.CheckLock(ctx, "/f.odt")
	require.NoError(t, err)
	assert.Nil(t, l)

	// Refreshing with nothing held fails.
	ok, err = s.Lock(ctx, "/f.odt", "tok", "alice", time.Minute, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerLockExpiry(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	writeFile(t, s, "/f.odt", "x", vfs.WriteOptions{})

	ok, err := s.Lock(ctx, "/f.odt", "stale", "a", -time.Second, false)
	require.NoError(t, err)
	assert.True(t, ok)

	l, err := s.CheckLock(ctx, "/f.odt")
	require.NoError(t, err)
	assert.Nil(t, l)

	ok, err = s.Lock(ctx, "/f.odt", "fresh", "b", time.Minute, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerReadonly(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	writeFile(t, s, "/f.odt", "x", vfs.WriteOptions{})

	require.NoError(t, s.SetReadonly("/f.odt", true))
	assert.False(t, s.IsWritable(ctx, "/f.odt"))
	_, err := s.WriteFile(ctx, "/f.odt", strings.NewReader("y"), vfs.WriteOptions{})
	assert.ErrorIs(t, err, vfs.ErrPermission)
}

func TestBadgerList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	writeFile(t, s, "/d/a.odt", "1", vfs.WriteOptions{})
	writeFile(t, s, "/d/b.odt", "2", vfs.WriteOptions{})
	writeFile(t, s, "/d/sub/c.odt", "3", vfs.WriteOptions{})

	names, err := s.List(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.odt", "b.odt", "sub"}, names)
}

func TestBadgerFactoryRequiresDataDir(t *testing.T) {
	_, err := vfs.NewFromConfig("badger", map[string]map[string]any{"badger": {}})
	assert.Error(t, err)
}
