// Package memory provides an in-memory vfs driver. It is the default
// backend and the workhorse of the test suite: version snapshots, per-path
// properties, and advisory locks all live in process memory.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/opendochost/wopihost/internal/vfs"
)

func init() {
	vfs.Register("memory", func(cfg map[string]any) (vfs.Filesystem, error) {
		var dc driverConfig
		if cfg != nil {
			if err := mapstructure.Decode(cfg, &dc); err != nil {
				return nil, fmt.Errorf("decoding memory driver config: %w", err)
			}
		}
		m := New()
		m.disableIDs = dc.DisableIntrinsicIDs
		return m, nil
	})
}

type driverConfig struct {
	// DisableIntrinsicIDs makes the driver behave like a mount with no
	// native file identifiers, forcing callers onto fallback identities.
	DisableIntrinsicIDs bool `mapstructure:"disable_intrinsic_ids"`
}

type entry struct {
	content  []byte
	modTime  time.Time
	isDir    bool
	ownerID  string
	version  int
	id       uint64
	readonly bool
	props    map[string]string
}

// Memory is an in-memory Filesystem. Safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	locks      map[string]*vfs.Lock
	idToPath   map[uint64]string
	versionIDs map[string][]uint64
	nextID     uint64
	disableIDs bool
}

// New creates an empty filesystem with a root directory.
func New() *Memory {
	m := &Memory{
		entries:    make(map[string]*entry),
		locks:      make(map[string]*vfs.Lock),
		idToPath:   make(map[uint64]string),
		versionIDs: make(map[string][]uint64),
		nextID:     1,
	}
	m.entries["/"] = &entry{isDir: true, modTime: time.Now()}
	return m
}

// DisableIntrinsicIDs switches the driver into no-native-ID mode.
func (m *Memory) DisableIntrinsicIDs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableIDs = true
}

func (m *Memory) assignID() uint64 {
	id := m.nextID
	m.nextID++
	return id
}

// mkdirAll creates dir and its parents. Caller holds the lock.
func (m *Memory) mkdirAll(dir string) error {
	dir = path.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}
	if e, ok := m.entries[dir]; ok {
		if !e.isDir {
			return fmt.Errorf("%s: %w", dir, vfs.ErrPermission)
		}
		return nil
	}
	if err := m.mkdirAll(path.Dir(dir)); err != nil {
		return err
	}
	m.entries[dir] = &entry{isDir: true, modTime: time.Now()}
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (m *Memory) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirAll(dir)
}

// SetOwner records the owning identity on a path.
func (m *Memory) SetOwner(p, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return vfs.ErrNotFound
	}
	e.ownerID = ownerID
	return nil
}

// SetReadonly marks a path as rejecting writes at the backend level,
// independent of any view's write flag.
func (m *Memory) SetReadonly(p string, ro bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return vfs.ErrNotFound
	}
	e.readonly = ro
	return nil
}

func (m *Memory) infoLocked(p string, e *entry) *vfs.FileInfo {
	id := e.id
	if m.disableIDs {
		id = 0
	}
	return &vfs.FileInfo{
		Path:    p,
		Size:    int64(len(e.content)),
		ModTime: e.modTime,
		IsDir:   e.isDir,
		OwnerID: e.ownerID,
		Version: e.version,
		ID:      id,
	}
}

func (m *Memory) Stat(ctx context.Context, p string) (*vfs.FileInfo, error) {
	p = path.Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[p]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return m.infoLocked(p, e), nil
}

func (m *Memory) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	p = path.Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[p]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	if e.isDir {
		return nil, vfs.ErrIsDir
	}
	buf := make([]byte, len(e.content))
	copy(buf, e.content)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *Memory) WriteFile(ctx context.Context, p string, r io.Reader, opts vfs.WriteOptions) (*vfs.FileInfo, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	p = path.Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p]
	if ok && e.isDir {
		return nil, vfs.ErrIsDir
	}
	if ok && e.readonly {
		return nil, vfs.ErrPermission
	}

	if !ok {
		if err := m.mkdirAll(path.Dir(p)); err != nil {
			return nil, err
		}
		e = &entry{version: 1, props: make(map[string]string)}
		if !m.disableIDs {
			e.id = m.assignID()
			m.idToPath[e.id] = p
		}
		m.entries[p] = e
	} else if !opts.SuppressVersion {
		// Snapshot the outgoing content under a version name that keeps
		// the old identifier; the live file moves to a fresh one.
		if !m.disableIDs {
			alias := path.Join(path.Dir(p), fmt.Sprintf("%d - %s", e.id, path.Base(p)))
			m.entries[alias] = &entry{
				content: e.content,
				modTime: e.modTime,
				ownerID: e.ownerID,
				version: e.version,
				id:      e.id,
				props:   make(map[string]string),
			}
			m.idToPath[e.id] = alias
			m.versionIDs[p] = append(m.versionIDs[p], e.id)

			e.id = m.assignID()
			m.idToPath[e.id] = p
		}
		e.version++
	}

	e.content = content
	e.modTime = time.Now()
	return m.infoLocked(p, e), nil
}

func (m *Memory) Exists(ctx context.Context, p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[path.Clean(p)]
	return ok
}

func (m *Memory) IsDir(ctx context.Context, p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path.Clean(p)]
	return ok && e.isDir
}

func (m *Memory) IsWritable(ctx context.Context, p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path.Clean(p)]
	return ok && !e.readonly
}

func (m *Memory) GetProp(ctx context.Context, p, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return "", vfs.ErrNotFound
	}
	v, ok := e.props[name]
	if !ok {
		return "", vfs.ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetProp(ctx context.Context, p, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return vfs.ErrNotFound
	}
	if e.props == nil {
		e.props = make(map[string]string)
	}
	e.props[name] = value
	return nil
}

func (m *Memory) RemoveProp(ctx context.Context, p, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path.Clean(p)]
	if !ok {
		return vfs.ErrNotFound
	}
	delete(e.props, name)
	return nil
}

func (m *Memory) CheckLock(ctx context.Context, p string) (*vfs.Lock, error) {
	p = path.Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[p]
	if !ok {
		return nil, nil
	}
	if l.Expired() {
		delete(m.locks, p)
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *Memory) Lock(ctx context.Context, p, token, owner string, ttl time.Duration, refresh bool) (bool, error) {
	p = path.Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[p]; !ok {
		return false, vfs.ErrNotFound
	}

	l, held := m.locks[p]
	if held && l.Expired() {
		delete(m.locks, p)
		held = false
	}

	switch {
	case !held:
		if refresh {
			return false, nil
		}
		m.locks[p] = &vfs.Lock{Path: p, Token: token, Owner: owner, Expires: time.Now().Add(ttl)}
		return true, nil
	case l.Token == token:
		l.Expires = time.Now().Add(ttl)
		return true, nil
	default:
		return false, nil
	}
}

func (m *Memory) Unlock(ctx context.Context, p, token string) (bool, error) {
	p = path.Clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.locks[p]
	if held && l.Expired() {
		delete(m.locks, p)
		held = false
	}
	if !held || l.Token != token {
		return false, nil
	}
	delete(m.locks, p)
	return true, nil
}

func (m *Memory) FileID(ctx context.Context, p string) (uint64, error) {
	p = path.Clean(p)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disableIDs {
		return 0, vfs.ErrNoIntrinsicID
	}
	e, ok := m.entries[p]
	if !ok {
		return 0, vfs.ErrNotFound
	}
	min := e.id
	for _, id := range m.versionIDs[p] {
		if id < min {
			min = id
		}
	}
	return min, nil
}

func (m *Memory) PathByID(ctx context.Context, id uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disableIDs {
		return "", vfs.ErrNoIntrinsicID
	}
	p, ok := m.idToPath[id]
	if !ok {
		return "", vfs.ErrNotFound
	}
	return p, nil
}

// List returns the file names directly under dir, sorted. Used by save-as
// collision probing and tests.
func (m *Memory) List(ctx context.Context, dir string) ([]string, error) {
	dir = path.Clean(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[dir]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	if !e.isDir {
		return nil, fmt.Errorf("%s: not a directory", dir)
	}

	prefix := dir + "/"
	if dir == "/" {
		prefix = "/"
	}
	var names []string
	for p := range m.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Close() error {
	return nil
}

var _ vfs.Filesystem = (*Memory)(nil)
