package share

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/vfs"
)

// DefaultTTL is the share lifetime when the issuer does not pick one.
const DefaultTTL = 24 * time.Hour

// SessionTTL bounds the impersonation sessions minted for shares.
const SessionTTL = 24 * time.Hour

// SessionHandle is the request-scoped result of impersonating a share: the
// restored session, the identity behind it, and a filesystem view confined
// to the share. Handles are built per request and never cached.
type SessionHandle struct {
	Session *identity.Session
	User    *identity.User
	Share   *Share
	FS      *vfs.Scoped
}

// Manager issues, resolves, and impersonates shares.
type Manager struct {
	repo     Repo
	parties  identity.PartyRepo
	sessions identity.SessionRepo
	backend  vfs.Filesystem
	ttl      time.Duration
	log      *slog.Logger
}

// NewManager wires a manager. ttl <= 0 selects DefaultTTL.
func NewManager(repo Repo, parties identity.PartyRepo, sessions identity.SessionRepo, backend vfs.Filesystem, ttl time.Duration, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo:     repo,
		parties:  parties,
		sessions: sessions,
		backend:  backend,
		ttl:      ttl,
		log:      log,
	}
}

// IssueOptions carries the parameters of a new share.
type IssueOptions struct {
	Path    string
	Mode    Mode
	OwnerID string

	// WithSession binds the share to an existing session. Ignored for
	// shared-writable mode, which always gets a fresh session so that
	// multiple recipients cannot collide on one.
	WithSession string

	// TTL overrides the manager default when positive.
	TTL time.Duration
}

// Issue validates the target and mints a share token for it.
func (m *Manager) Issue(ctx context.Context, opts IssueOptions) (*Share, error) {
	if !ValidMode(opts.Mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrPermissionDenied, opts.Mode)
	}
	if !m.backend.Exists(ctx, opts.Path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, opts.Path)
	}
	if opts.Mode.Writable() && !m.backend.IsWritable(ctx, opts.Path) {
		return nil, fmt.Errorf("%w: %s is not writable", ErrPermissionDenied, opts.Path)
	}

	owner := opts.OwnerID
	with := opts.WithSession
	if owner == "" {
		// Ownerless shares back public links. They get a throwaway
		// anonymous identity so impersonation still has a party to
		// resolve, and never reuse a caller session.
		user, sess, err := identity.CreateAnonymousSession(ctx, m.parties, m.sessions, "Guest", SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("creating anonymous identity: %w", err)
		}
		owner = user.ID
		with = sess.Token
	} else if opts.Mode == ModeSharedWritable || with == "" {
		sess, err := m.sessions.Create(ctx, owner, SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("creating impersonation session: %w", err)
		}
		with = sess.Token
	}

	token, err := identity.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generating share token: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}

	s := &Share{
		Token:     token,
		Path:      path.Clean(opts.Path),
		OwnerID:   owner,
		With:      with,
		Mode:      opts.Mode,
		Root:      mountRoot(ctx, m.backend, opts.Path, opts.Mode),
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting share: %w", err)
	}

	m.log.Info("share issued",
		"share_id", s.ID,
		"path", s.Path,
		"mode", string(s.Mode),
		"owner", s.OwnerID,
		"expires_at", s.ExpiresAt)
	return s, nil
}

// mountRoot picks the view root. Writable file shares mount the containing
// directory so save-as can create siblings; everything else mounts the
// shared path itself.
func mountRoot(ctx context.Context, backend vfs.Filesystem, p string, mode Mode) string {
	p = path.Clean(p)
	if mode == ModeWritable && !backend.IsDir(ctx, p) {
		return path.Dir(p)
	}
	return p
}

// Resolve validates a token string and returns the live share behind it.
// Unknown tokens and expired shares are distinguishable to the caller but
// both map to 404 at the protocol boundary.
func (m *Manager) Resolve(ctx context.Context, token string) (*Share, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	s, err := m.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if s.Expired() {
		return nil, ErrExpired
	}
	return s, nil
}

// Impersonate turns a resolved share into a request-scoped session handle.
// When the caller is not the session the share is bound to, a fresh
// replacement session is minted and the share is rebound to it, so two
// concurrent calls never end up mutating one session.
func (m *Manager) Impersonate(ctx context.Context, s *Share, callerSession string) (*SessionHandle, error) {
	user, err := m.parties.Get(ctx, s.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: share owner unknown", ErrInvalidToken)
	}

	var sess *identity.Session
	if callerSession != "" && callerSession == s.With {
		sess, err = m.sessions.Restore(ctx, s.With)
		if err != nil {
			return nil, fmt.Errorf("%w: bound session not restorable", ErrInvalidToken)
		}
	} else {
		fresh, err := m.sessions.Create(ctx, s.OwnerID, SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("minting replacement session: %w", err)
		}
		if err := m.repo.UpdateWith(ctx, s.Token, fresh.Token); err != nil {
			return nil, fmt.Errorf("rebinding share session: %w", err)
		}
		s.With = fresh.Token
		sess, err = m.sessions.Restore(ctx, fresh.Token)
		if err != nil {
			return nil, fmt.Errorf("%w: replacement session not restorable", ErrInvalidToken)
		}
	}

	return &SessionHandle{
		Session: sess,
		User:    user,
		Share:   s,
		FS:      vfs.Scope(m.backend, s.Root, s.Mode.Writable()),
	}, nil
}

// Revoke deletes a share. Resolving the token fails from this point on.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.repo.Delete(ctx, token); err != nil {
		return ErrInvalidToken
	}
	m.log.Info("share revoked")
	return nil
}

// Supersede atomically replaces a share with a fresh one for newPath,
// keeping mode and owner. The old token stops validating the instant the
// new one exists; there is no grace overlap.
func (m *Manager) Supersede(ctx context.Context, oldToken, newPath string) (*Share, error) {
	old, err := m.repo.GetByToken(ctx, oldToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !m.backend.Exists(ctx, newPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, newPath)
	}

	token, err := identity.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generating share token: %w", err)
	}

	next := &Share{
		Token:     token,
		Path:      path.Clean(newPath),
		OwnerID:   old.OwnerID,
		With:      old.With,
		Mode:      old.Mode,
		Root:      mountRoot(ctx, m.backend, newPath, old.Mode),
		ExpiresAt: time.Now().Add(m.ttl),
		CreatedAt: time.Now(),
	}
	if err := m.repo.Replace(ctx, oldToken, next); err != nil {
		return nil, fmt.Errorf("replacing share: %w", err)
	}

	m.log.Info("share superseded",
		"old_id", old.ID,
		"new_id", next.ID,
		"path", next.Path)
	return next, nil
}

// SweepExpired drops all expired shares.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("expired shares swept", "count", n)
	}
	return n, nil
}

// Repo exposes the underlying repository for the file identity resolver's
// fallback lookups.
func (m *Manager) Repo() Repo {
	return m.repo
}

// Parties exposes the party repository for ownership checks.
func (m *Manager) Parties() identity.PartyRepo {
	return m.parties
}
