// Package badger provides a persistent vfs driver backed by BadgerDB.
//
// The driver maps the filesystem onto namespaced keys:
//
//	Data Type       Prefix   Key Format            Value
//	=======================================================
//	File Metadata   "m:"     m:<path>              meta (JSON)
//	File Content    "d:"     d:<path>              raw bytes
//	Properties      "p:"     p:<path>:<name>       string
//	Locks           "l:"     l:<path>              vfs.Lock (JSON)
//	ID Index        "i:"     i:<id, 8B big-endian> path
//	Version IDs     "v:"     v:<path>              []uint64 (JSON)
//
// Prefixed keys keep the namespaces collision-free and make prefix scans
// (directory listings, cleanup) cheap.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/mitchellh/mapstructure"

	"github.com/opendochost/wopihost/internal/vfs"
)

func init() {
	vfs.Register("badger", func(cfg map[string]any) (vfs.Filesystem, error) {
		var dc driverConfig
		if err := mapstructure.Decode(cfg, &dc); err != nil {
			return nil, fmt.Errorf("decoding badger driver config: %w", err)
		}
		return Open(dc)
	})
}

type driverConfig struct {
	// DataDir is where the database files live. Required unless InMemory.
	DataDir string `mapstructure:"data_dir"`

	// InMemory runs badger without touching disk. Meant for tests.
	InMemory bool `mapstructure:"in_memory"`
}

const (
	metaPrefix = "m:"
	dataPrefix = "d:"
	propPrefix = "p:"
	lockPrefix = "l:"
	idPrefix   = "i:"
	verPrefix  = "v:"

	idSequenceKey = "seq:fileid"
)

// meta is the persisted portion of a file's metadata.
type meta struct {
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	IsDir    bool      `json:"is_dir"`
	OwnerID  string    `json:"owner_id,omitempty"`
	Version  int       `json:"version"`
	ID       uint64    `json:"id,omitempty"`
	Readonly bool      `json:"readonly,omitempty"`
}

// Store is a BadgerDB-backed Filesystem.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (or creates) the database and makes sure the root directory
// exists.
func Open(cfg driverConfig) (*Store, error) {
	if cfg.DataDir == "" && !cfg.InMemory {
		return nil, errors.New("badger driver requires data_dir")
	}

	opts := badger.DefaultOptions(cfg.DataDir).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(idSequenceKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening file-id sequence: %w", err)
	}

	s := &Store{db: db, seq: seq}
	if err := s.ensureRoot(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory is a test convenience.
func OpenInMemory() (*Store, error) {
	return Open(driverConfig{InMemory: true})
}

func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(metaPrefix + "/")
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putJSON(txn, key, meta{IsDir: true, ModTime: time.Now()})
	})
}

func (s *Store) nextID() (uint64, error) {
	for {
		id, err := s.seq.Next()
		if err != nil {
			return 0, err
		}
		// 0 is reserved to mean "no identifier".
		if id != 0 {
			return id, nil
		}
	}
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return vfs.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func idKey(id uint64) []byte {
	key := make([]byte, len(idPrefix)+8)
	copy(key, idPrefix)
	binary.BigEndian.PutUint64(key[len(idPrefix):], id)
	return key
}

func (s *Store) getMeta(txn *badger.Txn, p string) (*meta, error) {
	var m meta
	if err := getJSON(txn, []byte(metaPrefix+p), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// mkdirAll creates dir and missing parents inside txn.
func mkdirAll(txn *badger.Txn, dir string) error {
	dir = path.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}
	var m meta
	err := getJSON(txn, []byte(metaPrefix+dir), &m)
	if err == nil {
		if !m.IsDir {
			return fmt.Errorf("%s: %w", dir, vfs.ErrPermission)
		}
		return nil
	}
	if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	if err := mkdirAll(txn, path.Dir(dir)); err != nil {
		return err
	}
	return putJSON(txn, []byte(metaPrefix+dir), meta{IsDir: true, ModTime: time.Now()})
}

// MkdirAll creates a directory and any missing parents.
func (s *Store) MkdirAll(dir string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return mkdirAll(txn, dir)
	})
}

// SetOwner records the owning identity on a path.
func (s *Store) SetOwner(p, ownerID string) error {
	p = path.Clean(p)
	return s.db.Update(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		if err != nil {
			return err
		}
		m.OwnerID = ownerID
		return putJSON(txn, []byte(metaPrefix+p), *m)
	})
}

// SetReadonly marks a path as rejecting writes at the backend level.
func (s *Store) SetReadonly(p string, ro bool) error {
	p = path.Clean(p)
	return s.db.Update(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		if err != nil {
			return err
		}
		m.Readonly = ro
		return putJSON(txn, []byte(metaPrefix+p), *m)
	})
}

func (s *Store) Stat(ctx context.Context, p string) (*vfs.FileInfo, error) {
	p = path.Clean(p)
	var fi *vfs.FileInfo
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		if err != nil {
			return err
		}
		fi = &vfs.FileInfo{
			Path:    p,
			Size:    m.Size,
			ModTime: m.ModTime,
			IsDir:   m.IsDir,
			OwnerID: m.OwnerID,
			Version: m.Version,
			ID:      m.ID,
		}
		return nil
	})
	return fi, err
}

func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	p = path.Clean(p)
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		if err != nil {
			return err
		}
		if m.IsDir {
			return vfs.ErrIsDir
		}
		item, err := txn.Get([]byte(dataPrefix + p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			content = nil
			return nil
		}
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *Store) WriteFile(ctx context.Context, p string, r io.Reader, opts vfs.WriteOptions) (*vfs.FileInfo, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	p = path.Clean(p)
	var fi *vfs.FileInfo
	err = s.db.Update(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		switch {
		case errors.Is(err, vfs.ErrNotFound):
			if err := mkdirAll(txn, path.Dir(p)); err != nil {
				return err
			}
			id, err := s.nextID()
			if err != nil {
				return err
			}
			m = &meta{Version: 1, ID: id}
			if err := txn.Set(idKey(id), []byte(p)); err != nil {
				return err
			}
		case err != nil:
			return err
		case m.IsDir:
			return vfs.ErrIsDir
		case m.Readonly:
			return vfs.ErrPermission
		case !opts.SuppressVersion:
			// Move the outgoing content to a version-named snapshot that
			// keeps the old identifier; the live file gets a fresh one.
			alias := path.Join(path.Dir(p), fmt.Sprintf("%d - %s", m.ID, path.Base(p)))
			old := *m
			if err := putJSON(txn, []byte(metaPrefix+alias), old); err != nil {
				return err
			}
			if item, err := txn.Get([]byte(dataPrefix + p)); err == nil {
				oldContent, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := txn.Set([]byte(dataPrefix+alias), oldContent); err != nil {
					return err
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(idKey(old.ID), []byte(alias)); err != nil {
				return err
			}

			var versions []uint64
			if err := getJSON(txn, []byte(verPrefix+p), &versions); err != nil && !errors.Is(err, vfs.ErrNotFound) {
				return err
			}
			versions = append(versions, old.ID)
			if err := putJSON(txn, []byte(verPrefix+p), versions); err != nil {
				return err
			}

			id, err := s.nextID()
			if err != nil {
				return err
			}
			m.ID = id
			m.Version++
			if err := txn.Set(idKey(id), []byte(p)); err != nil {
				return err
			}
		}

		m.Size = int64(len(content))
		m.ModTime = time.Now()
		if err := txn.Set([]byte(dataPrefix+p), content); err != nil {
			return err
		}
		if err := putJSON(txn, []byte(metaPrefix+p), *m); err != nil {
			return err
		}
		fi = &vfs.FileInfo{
			Path:    p,
			Size:    m.Size,
			ModTime: m.ModTime,
			OwnerID: m.OwnerID,
			Version: m.Version,
			ID:      m.ID,
		}
		return nil
	})
	return fi, err
}

func (s *Store) Exists(ctx context.Context, p string) bool {
	p = path.Clean(p)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(metaPrefix + p))
		return err
	})
	return err == nil
}

func (s *Store) IsDir(ctx context.Context, p string) bool {
	m, err := s.statMeta(p)
	return err == nil && m.IsDir
}

func (s *Store) IsWritable(ctx context.Context, p string) bool {
	m, err := s.statMeta(p)
	return err == nil && !m.Readonly
}

func (s *Store) statMeta(p string) (*meta, error) {
	p = path.Clean(p)
	var m *meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = s.getMeta(txn, p)
		return err
	})
	return m, err
}

func (s *Store) GetProp(ctx context.Context, p, name string) (string, error) {
	p = path.Clean(p)
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(propPrefix + p + ":" + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return vfs.ErrNotFound
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		value = string(b)
		return err
	})
	return value, err
}

func (s *Store) SetProp(ctx context.Context, p, name, value string) error {
	p = path.Clean(p)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.getMeta(txn, p); err != nil {
			return err
		}
		return txn.Set([]byte(propPrefix+p+":"+name), []byte(value))
	})
}

func (s *Store) RemoveProp(ctx context.Context, p, name string) error {
	p = path.Clean(p)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.getMeta(txn, p); err != nil {
			return err
		}
		return txn.Delete([]byte(propPrefix + p + ":" + name))
	})
}

func (s *Store) CheckLock(ctx context.Context, p string) (*vfs.Lock, error) {
	p = path.Clean(p)
	var lock *vfs.Lock
	err := s.db.Update(func(txn *badger.Txn) error {
		var l vfs.Lock
		err := getJSON(txn, []byte(lockPrefix+p), &l)
		if errors.Is(err, vfs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if l.Expired() {
			return txn.Delete([]byte(lockPrefix + p))
		}
		lock = &l
		return nil
	})
	return lock, err
}

func (s *Store) Lock(ctx context.Context, p, token, owner string, ttl time.Duration, refresh bool) (bool, error) {
	p = path.Clean(p)
	var ok bool
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.getMeta(txn, p); err != nil {
			return err
		}

		var held vfs.Lock
		err := getJSON(txn, []byte(lockPrefix+p), &held)
		haveLock := err == nil && !held.Expired()
		if err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return err
		}

		switch {
		case !haveLock:
			if refresh {
				return nil
			}
		case held.Token != token:
			return nil
		}

		ok = true
		return putJSON(txn, []byte(lockPrefix+p), vfs.Lock{
			Path:    p,
			Token:   token,
			Owner:   owner,
			Expires: time.Now().Add(ttl),
		})
	})
	return ok, err
}

func (s *Store) Unlock(ctx context.Context, p, token string) (bool, error) {
	p = path.Clean(p)
	var ok bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var held vfs.Lock
		err := getJSON(txn, []byte(lockPrefix+p), &held)
		if errors.Is(err, vfs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if held.Expired() || held.Token != token {
			if held.Expired() {
				return txn.Delete([]byte(lockPrefix + p))
			}
			return nil
		}
		ok = true
		return txn.Delete([]byte(lockPrefix + p))
	})
	return ok, err
}

func (s *Store) FileID(ctx context.Context, p string) (uint64, error) {
	p = path.Clean(p)
	var min uint64
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, p)
		if err != nil {
			return err
		}
		min = m.ID
		var versions []uint64
		if err := getJSON(txn, []byte(verPrefix+p), &versions); err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return err
		}
		for _, id := range versions {
			if id < min {
				min = id
			}
		}
		return nil
	})
	return min, err
}

func (s *Store) PathByID(ctx context.Context, id uint64) (string, error) {
	var p string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return vfs.ErrNotFound
		}
		if err != nil {
			return err
		}
		b, err := item.ValueCopy(nil)
		p = string(b)
		return err
	})
	return p, err
}

// List returns the file names directly under dir, sorted.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	dir = path.Clean(dir)
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		m, err := s.getMeta(txn, dir)
		if err != nil {
			return err
		}
		if !m.IsDir {
			return fmt.Errorf("%s: not a directory", dir)
		}

		scan := metaPrefix + dir + "/"
		if dir == "/" {
			scan = metaPrefix + "/"
		}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(scan)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), scan)
			if rest != "" && !strings.Contains(rest, "/") {
				names = append(names, rest)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error {
	if s.seq != nil {
		s.seq.Release()
	}
	return s.db.Close()
}

var _ vfs.Filesystem = (*Store)(nil)
