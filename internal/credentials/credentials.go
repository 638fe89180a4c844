// Package credentials stores the username/password pairs some shared targets
// still require. A share can carry several credential slots; the editor picks
// one by appending ":<index>" to its access token. Secrets are sealed with
// nacl/secretbox under a server key before they reach the store.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrNotFound   = errors.New("credential not found")
	ErrDecryption = errors.New("credential decryption failed")
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

// Key is the server-side sealing key.
type Key [KeySize]byte

// NewRandomKey generates a fresh key. Credentials sealed under it do not
// survive a restart unless the key is persisted in config.
func NewRandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// ParseKey decodes a hex-encoded key from config.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("credentials key is not hex: %w", err)
	}
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("credentials key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// String returns the hex form, suitable for config files.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Record is one sealed credential slot, addressed by share token and index.
type Record struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	ShareToken string `gorm:"index:idx_cred_slot,unique;size:64;not null"`
	Idx        int    `gorm:"index:idx_cred_slot,unique;not null"`
	Nonce      []byte `gorm:"size:24;not null"`
	Ciphertext []byte `gorm:"not null"`
}

// Repo is the persistence contract for sealed records.
type Repo interface {
	// Upsert stores a record, replacing an existing slot.
	Upsert(ctx context.Context, rec *Record) error

	// Get returns the record in a slot. ErrNotFound when absent.
	Get(ctx context.Context, shareToken string, idx int) (*Record, error)

	// DeleteByShare removes every slot of a share.
	DeleteByShare(ctx context.Context, shareToken string) error
}

type plaintext struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Manager seals and opens credential slots.
type Manager struct {
	repo Repo
	key  Key
}

func NewManager(repo Repo, key Key) *Manager {
	return &Manager{repo: repo, key: key}
}

// Put seals username/password into the given slot of a share.
func (m *Manager) Put(ctx context.Context, shareToken string, idx int, username, password string) error {
	msg, err := json.Marshal(plaintext{Username: username, Password: password})
	if err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nil, msg, &nonce, (*[KeySize]byte)(&m.key))

	return m.repo.Upsert(ctx, &Record{
		ShareToken: shareToken,
		Idx:        idx,
		Nonce:      nonce[:],
		Ciphertext: sealed,
	})
}

// Get opens the slot and returns the username/password pair.
func (m *Manager) Get(ctx context.Context, shareToken string, idx int) (username, password string, err error) {
	rec, err := m.repo.Get(ctx, shareToken, idx)
	if err != nil {
		return "", "", err
	}
	if len(rec.Nonce) != 24 {
		return "", "", ErrDecryption
	}

	var nonce [24]byte
	copy(nonce[:], rec.Nonce)
	msg, ok := secretbox.Open(nil, rec.Ciphertext, &nonce, (*[KeySize]byte)(&m.key))
	if !ok {
		return "", "", ErrDecryption
	}

	var pt plaintext
	if err := json.Unmarshal(msg, &pt); err != nil {
		return "", "", ErrDecryption
	}
	return pt.Username, pt.Password, nil
}

// Forget removes every credential slot of a share. Called on revocation.
func (m *Manager) Forget(ctx context.Context, shareToken string) error {
	return m.repo.DeleteByShare(ctx, shareToken)
}
