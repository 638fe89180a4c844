package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/vfs"
	"github.com/opendochost/wopihost/internal/wopi"
)

// ShareHandler handles share issuance and revocation.
type ShareHandler struct {
	shares   *share.Manager
	creds    *credentials.Manager
	sessions identity.SessionRepo
	backend  vfs.Filesystem
	resolver *wopi.Resolver

	// baseURL is the external URL prefix WOPI URLs are minted against.
	baseURL string
}

// NewShareHandler creates a share issuance handler.
func NewShareHandler(shares *share.Manager, creds *credentials.Manager, sessions identity.SessionRepo, backend vfs.Filesystem, baseURL string) *ShareHandler {
	return &ShareHandler{
		shares:   shares,
		creds:    creds,
		sessions: sessions,
		backend:  backend,
		resolver: wopi.NewResolver(shares.Repo()),
		baseURL:  baseURL,
	}
}

// CredentialSlot is one stored credential pair for a share.
type CredentialSlot struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateShareRequest is the request body for share issuance.
type CreateShareRequest struct {
	Path string `json:"path"`

	// Mode is one of: readonly, writable, shared-writable.
	// Defaults to writable.
	Mode string `json:"mode"`

	// TTLHours overrides the server default when positive.
	TTLHours int `json:"ttl_hours"`

	// Credentials are sealed per-index; the editor selects one with the
	// ":N" suffix on the access token.
	Credentials []CredentialSlot `json:"credentials"`
}

// CreateShareResponse is the response for a successful issuance.
type CreateShareResponse struct {
	Token     string `json:"token"`
	FileID    string `json:"file_id"`
	URL       string `json:"url"`
	Mode      string `json:"mode"`
	ExpiresAt string `json:"expires_at"`
}

// CreateShare handles POST /api/shares. The share is bound to the caller's
// session so the editor impersonates the issuer, not an anonymous user.
func (h *ShareHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := ExtractSessionToken(r)
	session, err := h.sessions.Get(ctx, token)
	if err != nil {
		WriteUnauthorized(w, ReasonSessionExpired, "session expired or invalid")
		return
	}

	var req CreateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		WriteBadRequest(w, ReasonMissingField, "path required")
		return
	}

	mode := share.Mode(req.Mode)
	if req.Mode == "" {
		mode = share.ModeWritable
	}

	s, err := h.shares.Issue(ctx, share.IssueOptions{
		Path:        req.Path,
		Mode:        mode,
		OwnerID:     session.UserID,
		WithSession: session.Token,
		TTL:         time.Duration(req.TTLHours) * time.Hour,
	})
	if err != nil {
		switch {
		case errors.Is(err, share.ErrNotFound):
			WriteNotFound(w, "path not found")
		case errors.Is(err, share.ErrPermissionDenied):
			WriteError(w, http.StatusForbidden, ReasonConflict, err.Error())
		default:
			WriteBadRequest(w, ReasonBadRequest, err.Error())
		}
		return
	}

	for i, cred := range req.Credentials {
		if err := h.creds.Put(ctx, s.Token, i, cred.Username, cred.Password); err != nil {
			h.shares.Revoke(ctx, s.Token)
			WriteInternalError(w, "failed to store credentials")
			return
		}
	}

	id, err := h.resolver.IDFromPath(ctx, h.backend, s.Path)
	if err != nil {
		h.shares.Revoke(ctx, s.Token)
		WriteInternalError(w, "failed to resolve file identity")
		return
	}

	resp := CreateShareResponse{
		Token:     s.Token,
		FileID:    id.String(),
		URL:       fmt.Sprintf("%s/wopi/files/%s?access_token=%s", h.baseURL, id, url.QueryEscape(s.Token)),
		Mode:      string(s.Mode),
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
	WriteJSON(w, http.StatusCreated, resp)
}

// RevokeShare handles DELETE /api/shares/{token}. Only the issuing user or
// an admin may revoke.
func (h *ShareHandler) RevokeShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := ExtractSessionToken(r)
	session, err := h.sessions.Get(ctx, token)
	if err != nil {
		WriteUnauthorized(w, ReasonSessionExpired, "session expired or invalid")
		return
	}

	shareToken := chi.URLParam(r, "token")
	s, err := h.shares.Repo().GetByToken(ctx, shareToken)
	if err != nil {
		WriteNotFound(w, "share not found")
		return
	}

	user, err := h.shares.Parties().Get(ctx, session.UserID)
	if err != nil || (s.OwnerID != user.ID && !user.IsAdmin()) {
		WriteError(w, http.StatusForbidden, ReasonConflict, "not the share owner")
		return
	}

	if err := h.shares.Revoke(ctx, shareToken); err != nil {
		WriteInternalError(w, "failed to revoke share")
		return
	}
	h.creds.Forget(ctx, shareToken)

	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
