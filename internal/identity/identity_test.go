package identity

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMemoryPartyRepo_CreateGet(t *testing.T) {
	repo := NewMemoryPartyRepo()
	ctx := context.Background()

	user := &User{ID: NewID(), Username: "alice", DisplayName: "Alice", Role: RoleUser}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.Get(ctx, user.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("unexpected username %q", got.Username)
	}

	if err := repo.Create(ctx, &User{ID: NewID(), Username: "alice"}); err != ErrUserExists {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestUsernameOf(t *testing.T) {
	repo := NewMemoryPartyRepo()
	ctx := context.Background()

	user := &User{ID: NewID(), Username: "alice", DisplayName: "Alice M"}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatal(err)
	}

	if got := UsernameOf(ctx, repo, user.ID); got != "Alice M" {
		t.Errorf("expected display name, got %q", got)
	}
	if got := UsernameOf(ctx, repo, "nope"); got != "nope" {
		t.Errorf("expected fallback to id, got %q", got)
	}
}

func TestSessionRepo_Lifecycle(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	session, err := repo.Create(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.Get(ctx, session.Token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("unexpected user id %q", got.UserID)
	}
	if got.Restored {
		t.Error("plain Get must not mark session restored")
	}

	restored, err := repo.Restore(ctx, session.Token)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !restored.Restored {
		t.Error("Restore must mark session restored")
	}

	// The stored session stays unmarked
	again, _ := repo.Get(ctx, session.Token)
	if again.Restored {
		t.Error("Restore must not mutate the stored session")
	}

	if err := repo.Delete(ctx, session.Token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, session.Token); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestSessionRepo_Expiry(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()

	session, err := repo.Create(ctx, "user-1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Get(ctx, session.Token); err != ErrSessionExpired {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}

	n, err := repo.DeleteExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected 1 expired session removed, got %d, %v", n, err)
	}
}

func TestUserAuth_HashVerify(t *testing.T) {
	auth := NewUserAuth(4) // low cost for test speed

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if err := auth.VerifyPassword(hash, "s3cret"); err != nil {
		t.Errorf("expected password to verify: %v", err)
	}
	if err := auth.VerifyPassword(hash, "wrong"); err != ErrInvalidPassword {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestBootstrap_EnsureAdmin(t *testing.T) {
	repo := NewMemoryPartyRepo()
	auth := NewUserAuth(4)
	b := NewBootstrap(repo, auth, testLogger())
	ctx := context.Background()

	if err := b.EnsureAdmin(ctx, "admin", ""); err == nil {
		t.Error("expected error for empty bootstrap password")
	}

	if err := b.EnsureAdmin(ctx, "admin", "changeme"); err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}

	admin, err := repo.GetByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if !admin.IsAdmin() {
		t.Error("bootstrap user should be admin")
	}

	// Idempotent on second run
	if err := b.EnsureAdmin(ctx, "admin", "other"); err != nil {
		t.Errorf("EnsureAdmin should be idempotent: %v", err)
	}
}

func TestCreateAnonymousSession_DistinctIdentities(t *testing.T) {
	parties := NewMemoryPartyRepo()
	sessions := NewMemorySessionRepo()
	ctx := context.Background()

	u1, s1, err := CreateAnonymousSession(ctx, parties, sessions, "Guest", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	u2, s2, err := CreateAnonymousSession(ctx, parties, sessions, "Guest", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if u1.ID == u2.ID {
		t.Error("anonymous identities must be distinct")
	}
	if s1.Token == s2.Token {
		t.Error("anonymous sessions must be distinct")
	}
	if !u1.IsAnonymous() {
		t.Error("minted identity should be anonymous role")
	}
}
