package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Bootstrap creates the admin user idempotently at startup.
type Bootstrap struct {
	repo PartyRepo
	auth *UserAuth
	log  *slog.Logger
}

// NewBootstrap creates a new bootstrap handler.
func NewBootstrap(repo PartyRepo, auth *UserAuth, log *slog.Logger) *Bootstrap {
	return &Bootstrap{
		repo: repo,
		auth: auth,
		log:  log,
	}
}

// EnsureAdmin creates the admin user if it does not exist yet.
// A missing password is refused: an admin with a guessable default would be an
// open door on the share-issuance API.
func (b *Bootstrap) EnsureAdmin(ctx context.Context, username, password string) error {
	_, err := b.repo.GetByUsername(ctx, username)
	if err == nil {
		b.log.Debug("admin user already exists", "username", username)
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	if password == "" {
		return fmt.Errorf("bootstrap admin %q has no password configured", username)
	}

	hash, err := b.auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := &User{
		ID:           NewID(),
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         RoleAdmin,
		HomeDir:      "/home/" + username,
		CreatedAt:    time.Now(),
	}
	if err := b.repo.Create(ctx, user); err != nil {
		return err
	}

	b.log.Info("created bootstrap admin", "username", username, "id", user.ID)
	return nil
}

// AnonymousTTL bounds the lifetime of minted share identities.
const AnonymousTTL = 31 * 24 * time.Hour

// CreateAnonymousSession mints a throwaway identity plus session for shares
// handed to recipients without an account. Each call returns a distinct
// identity so recipients of the same link never collide on one session.
func CreateAnonymousSession(ctx context.Context, parties PartyRepo, sessions SessionRepo, displayName string, ttl time.Duration) (*User, *Session, error) {
	if ttl <= 0 || ttl > AnonymousTTL {
		ttl = AnonymousTTL
	}
	if displayName == "" {
		displayName = "Guest"
	}

	user := &User{
		ID:          NewID(),
		Username:    "anon-" + NewID()[:8],
		DisplayName: displayName,
		Role:        RoleAnonymous,
		CreatedAt:   time.Now(),
	}
	if err := parties.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	session, err := sessions.Create(ctx, user.ID, ttl)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}
