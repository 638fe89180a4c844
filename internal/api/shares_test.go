package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/vfs"
	"github.com/opendochost/wopihost/internal/vfs/memory"
)

func newShareHandler(t *testing.T) (*ShareHandler, string) {
	t.Helper()
	ctx := context.Background()

	fs := memory.New()
	if _, err := fs.WriteFile(ctx, "/home/alice/report.odt", strings.NewReader("hello"), vfs.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	parties := identity.NewMemoryPartyRepo()
	sessions := identity.NewMemorySessionRepo()

	alice := &identity.User{ID: identity.NewID(), Username: "alice", DisplayName: "Alice", Role: identity.RoleUser}
	if err := parties.Create(ctx, alice); err != nil {
		t.Fatal(err)
	}
	sess, err := sessions.Create(ctx, alice.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	shares := share.NewManager(share.NewMemoryRepo(), parties, sessions, fs, 0, logger)
	key, err := credentials.NewRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	creds := credentials.NewManager(credentials.NewMemoryRepo(), key)

	return NewShareHandler(shares, creds, sessions, fs, "https://docs.example.org"), sess.Token
}

func postShare(t *testing.T, h *ShareHandler, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/shares", strings.NewReader(body))
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	w := httptest.NewRecorder()
	h.CreateShare(w, req)
	return w
}

func TestCreateShare(t *testing.T) {
	h, session := newShareHandler(t)

	w := postShare(t, h, session, `{"path": "/home/alice/report.odt", "mode": "readonly"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp CreateShareResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" {
		t.Error("empty token")
	}
	if resp.Mode != "readonly" {
		t.Errorf("mode = %q", resp.Mode)
	}
	if !strings.HasPrefix(resp.URL, "https://docs.example.org/wopi/files/") {
		t.Errorf("URL = %q", resp.URL)
	}
	if !strings.Contains(resp.URL, "access_token="+resp.Token) {
		t.Errorf("URL %q does not carry the token", resp.URL)
	}
}

func TestCreateShare_Validation(t *testing.T) {
	h, session := newShareHandler(t)

	w := postShare(t, h, "", `{"path": "/home/alice/report.odt"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no session status = %d, want 401", w.Code)
	}

	w = postShare(t, h, session, `{notjson`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}

	w = postShare(t, h, session, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d, want 400", w.Code)
	}

	w = postShare(t, h, session, `{"path": "/home/alice/missing.odt"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", w.Code)
	}
}

func TestCreateShare_StoresCredentialSlots(t *testing.T) {
	h, session := newShareHandler(t)

	w := postShare(t, h, session, `{"path": "/home/alice/report.odt", "credentials": [{"username": "u0", "password": "p0"}, {"username": "u1", "password": "p1"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CreateShareResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i, want := range []string{"u0", "u1"} {
		user, _, err := h.creds.Get(ctx, resp.Token, i)
		if err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
		if user != want {
			t.Errorf("slot %d username = %q, want %q", i, user, want)
		}
	}
}
