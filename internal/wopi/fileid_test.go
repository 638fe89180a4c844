package wopi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/vfs"
	"github.com/opendochost/wopihost/internal/vfs/memory"
)

func TestParseFileID(t *testing.T) {
	tests := []struct {
		in       string
		fallback bool
		value    uint64
		wantErr  bool
	}{
		{in: "42", value: 42},
		{in: "-7", fallback: true, value: 7},
		{in: "0", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "--3", wantErr: true},
	}
	for _, tt := range tests {
		id, err := ParseFileID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFileID(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFileID(%q): %v", tt.in, err)
			continue
		}
		if id.IsFallback() != tt.fallback || id.Value() != tt.value {
			t.Errorf("ParseFileID(%q) = %+v", tt.in, id)
		}
		if id.String() != tt.in {
			t.Errorf("round trip %q -> %q", tt.in, id.String())
		}
	}
}

func seedFS(t *testing.T, paths map[string]string) *memory.Memory {
	t.Helper()
	m := memory.New()
	for p, content := range paths {
		if _, err := m.WriteFile(context.Background(), p, strings.NewReader(content), vfs.WriteOptions{}); err != nil {
			t.Fatalf("seeding %s: %v", p, err)
		}
	}
	return m
}

func TestIDFromPathIntrinsic(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{"/d/f.odt": "v1"})
	r := NewResolver(share.NewMemoryRepo())

	first, err := r.IDFromPath(ctx, fs, "/d/f.odt")
	if err != nil {
		t.Fatalf("IDFromPath: %v", err)
	}
	if first.IsFallback() {
		t.Error("expected an intrinsic identity")
	}

	// A version bump must not move the identity.
	if _, err := fs.WriteFile(ctx, "/d/f.odt", strings.NewReader("v2"), vfs.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	again, err := r.IDFromPath(ctx, fs, "/d/f.odt")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("identity moved across versions: %s -> %s", first, again)
	}
}

func TestIDFromPathFallback(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{"/d/f.odt": "v1"})
	fs.DisableIntrinsicIDs()

	shares := share.NewMemoryRepo()
	if err := shares.Create(ctx, &share.Share{
		Token: "tok", Path: "/d/f.odt", OwnerID: "o",
		Mode: share.ModeWritable, Root: "/d",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(shares)
	id, err := r.IDFromPath(ctx, fs, "/d/f.odt")
	if err != nil {
		t.Fatalf("IDFromPath: %v", err)
	}
	if !id.IsFallback() {
		t.Error("expected a fallback identity")
	}
	if id.String()[0] != '-' {
		t.Errorf("fallback wire form %q should be negative", id.String())
	}

	if _, err := r.IDFromPath(ctx, fs, "/d/unshared.odt"); err == nil {
		t.Error("expected error for a path no share covers")
	}
}

func TestPathFromIDIntrinsic(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{"/d/f.odt": "v1"})
	r := NewResolver(share.NewMemoryRepo())
	view := vfs.Scope(fs, "/d", true)

	id, err := r.IDFromPath(ctx, fs, "/d/f.odt")
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.PathFromID(ctx, view, id, "/d/f.odt")
	if err != nil {
		t.Fatalf("PathFromID: %v", err)
	}
	if p != "/d/f.odt" {
		t.Errorf("path = %q", p)
	}
}

func TestPathFromIDReconcilesVersionAlias(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{"/d/f.odt": "v1"})
	r := NewResolver(share.NewMemoryRepo())
	view := vfs.Scope(fs, "/d", true)

	id, err := r.IDFromPath(ctx, fs, "/d/f.odt")
	if err != nil {
		t.Fatal(err)
	}
	// After a version bump the old intrinsic ID resolves to the
	// version-named copy; the resolver must still answer the live path.
	if _, err := fs.WriteFile(ctx, "/d/f.odt", strings.NewReader("v2"), vfs.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	p, err := r.PathFromID(ctx, view, id, "/d/f.odt")
	if err != nil {
		t.Fatalf("PathFromID: %v", err)
	}
	if p != "/d/f.odt" {
		t.Errorf("path = %q, want the token's path", p)
	}
}

func TestPathFromIDRejectsUnrelatedPath(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{
		"/d/f.odt":     "a",
		"/d/other.odt": "b",
	})
	r := NewResolver(share.NewMemoryRepo())
	view := vfs.Scope(fs, "/d", true)

	otherID, err := r.IDFromPath(ctx, fs, "/d/other.odt")
	if err != nil {
		t.Fatal(err)
	}
	// The ID names a real file, but not the one the token covers.
	if _, err := r.PathFromID(ctx, view, otherID, "/d/f.odt"); err == nil {
		t.Error("expected error for an unrelated path")
	}
}

func TestPathFromIDFallback(t *testing.T) {
	ctx := context.Background()
	fs := seedFS(t, map[string]string{"/d/f.odt": "v1"})
	fs.DisableIntrinsicIDs()

	shares := share.NewMemoryRepo()
	s := &share.Share{
		Token: "tok", Path: "/d/f.odt", OwnerID: "o",
		Mode: share.ModeWritable, Root: "/d",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := shares.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	r := NewResolver(shares)
	view := vfs.Scope(fs, "/d", true)

	p, err := r.PathFromID(ctx, view, FallbackID(s.ID), "/d/f.odt")
	if err != nil {
		t.Fatalf("PathFromID: %v", err)
	}
	if p != "/d/f.odt" {
		t.Errorf("path = %q", p)
	}

	if _, err := r.PathFromID(ctx, view, FallbackID(999), "/d/f.odt"); err == nil {
		t.Error("expected error for an unknown share id")
	}
}

func TestIsVersionAlias(t *testing.T) {
	tests := []struct {
		alias, p string
		want     bool
	}{
		{"/d/12 - f.odt", "/d/f.odt", true},
		{"/d/003 - f.odt", "/d/f.odt", true},
		{"/d/12 - g.odt", "/d/f.odt", false},
		{"/e/12 - f.odt", "/d/f.odt", false},
		{"/d/f.odt", "/d/f.odt", false},
		{"/d/x12 - f.odt", "/d/f.odt", false},
	}
	for _, tt := range tests {
		if got := isVersionAlias(tt.alias, tt.p); got != tt.want {
			t.Errorf("isVersionAlias(%q, %q) = %v, want %v", tt.alias, tt.p, got, tt.want)
		}
	}
}
