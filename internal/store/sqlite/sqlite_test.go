package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/store"
)

func openDriver(t *testing.T) store.Driver {
	t.Helper()
	d, err := store.New(&store.DriverConfig{Driver: "sqlite", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("creating driver: %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("initializing driver: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleShare(token string) *share.Share {
	return &share.Share{
		Token:     token,
		Path:      "/home/alice/doc.odt",
		OwnerID:   "owner-1",
		With:      "session-1",
		Mode:      share.ModeWritable,
		Root:      "/home/alice",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
}

func TestRequiresDataDir(t *testing.T) {
	if _, err := store.New(&store.DriverConfig{Driver: "sqlite"}); err == nil {
		t.Error("expected error without data_dir")
	}
}

func TestShareCRUD(t *testing.T) {
	ctx := context.Background()
	repo := openDriver(t).Shares()

	s := sampleShare("tok-1")
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == 0 {
		t.Fatal("expected autoincrement ID")
	}

	got, err := repo.GetByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if got.Path != s.Path || got.Mode != share.ModeWritable || got.With != "session-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	byID, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Token != "tok-1" {
		t.Errorf("GetByID token = %q", byID.Token)
	}

	if err := repo.UpdateWith(ctx, "tok-1", "session-2"); err != nil {
		t.Fatalf("UpdateWith: %v", err)
	}
	got, _ = repo.GetByToken(ctx, "tok-1")
	if got.With != "session-2" {
		t.Errorf("With = %q after UpdateWith", got.With)
	}

	if err := repo.Delete(ctx, "tok-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByToken(ctx, "tok-1"); err != share.ErrNotFound {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "tok-1"); err != share.ErrNotFound {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestReplaceIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := openDriver(t).Shares()

	old := sampleShare("tok-old")
	if err := repo.Create(ctx, old); err != nil {
		t.Fatal(err)
	}

	next := sampleShare("tok-new")
	next.Path = "/home/alice/renamed.odt"
	if err := repo.Replace(ctx, "tok-old", next); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := repo.GetByToken(ctx, "tok-old"); err != share.ErrNotFound {
		t.Errorf("old token still resolves: %v", err)
	}
	got, err := repo.GetByToken(ctx, "tok-new")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if got.Path != "/home/alice/renamed.odt" {
		t.Errorf("new path = %q", got.Path)
	}

	if err := repo.Replace(ctx, "tok-missing", sampleShare("tok-x")); err != share.ErrNotFound {
		t.Errorf("replacing missing share: got %v, want ErrNotFound", err)
	}
}

func TestMinActiveIDByPath(t *testing.T) {
	ctx := context.Background()
	repo := openDriver(t).Shares()

	a := sampleShare("tok-a")
	if err := repo.Create(ctx, a); err != nil {
		t.Fatal(err)
	}
	b := sampleShare("tok-b")
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}
	expired := sampleShare("tok-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatal(err)
	}

	id, err := repo.MinActiveIDByPath(ctx, "/home/alice/doc.odt")
	if err != nil {
		t.Fatalf("MinActiveIDByPath: %v", err)
	}
	if id != a.ID {
		t.Errorf("min id = %d, want %d", id, a.ID)
	}

	if _, err := repo.MinActiveIDByPath(ctx, "/elsewhere"); err != share.ErrNotFound {
		t.Errorf("no shares: got %v, want ErrNotFound", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := openDriver(t).Shares()

	expired := sampleShare("tok-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatal(err)
	}
	live := sampleShare("tok-live")
	if err := repo.Create(ctx, live); err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := repo.GetByToken(ctx, "tok-live"); err != nil {
		t.Errorf("live share gone: %v", err)
	}
}

func TestCredentialSlots(t *testing.T) {
	ctx := context.Background()
	repo := openDriver(t).Credentials()

	rec := &credentials.Record{
		ShareToken: "tok-1",
		Idx:        0,
		Nonce:      make([]byte, 24),
		Ciphertext: []byte("sealed"),
	}
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "tok-1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Ciphertext) != "sealed" {
		t.Errorf("ciphertext = %q", got.Ciphertext)
	}

	// Upsert replaces the slot.
	rec2 := &credentials.Record{
		ShareToken: "tok-1",
		Idx:        0,
		Nonce:      make([]byte, 24),
		Ciphertext: []byte("resealed"),
	}
	if err := repo.Upsert(ctx, rec2); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	got, _ = repo.Get(ctx, "tok-1", 0)
	if string(got.Ciphertext) != "resealed" {
		t.Errorf("ciphertext after replace = %q", got.Ciphertext)
	}

	if _, err := repo.Get(ctx, "tok-1", 7); err != credentials.ErrNotFound {
		t.Errorf("empty slot: got %v, want ErrNotFound", err)
	}

	if err := repo.DeleteByShare(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteByShare: %v", err)
	}
	if _, err := repo.Get(ctx, "tok-1", 0); err != credentials.ErrNotFound {
		t.Errorf("after DeleteByShare: got %v, want ErrNotFound", err)
	}
}
