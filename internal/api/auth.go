package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opendochost/wopihost/internal/identity"
)

// SessionTTL is the default session duration.
const SessionTTL = 24 * time.Hour

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	repo     identity.PartyRepo
	sessions identity.SessionRepo
	auth     *identity.UserAuth
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(repo identity.PartyRepo, sessions identity.SessionRepo, auth *identity.UserAuth) *AuthHandler {
	return &AuthHandler{
		repo:     repo,
		sessions: sessions,
		auth:     auth,
	}
}

// LoginRequest is the request body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response for a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	User      struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	} `json:"user"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, ReasonBadRequest, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		WriteBadRequest(w, ReasonMissingField, "username and password required")
		return
	}

	ctx := r.Context()

	user, err := h.auth.Authenticate(ctx, h.repo, req.Username, req.Password)
	if err != nil {
		WriteUnauthorized(w, ReasonInvalidCredentials, "invalid username or password")
		return
	}

	session, err := h.sessions.Create(ctx, user.ID, SessionTTL)
	if err != nil {
		WriteInternalError(w, "failed to create session")
		return
	}

	// Set cookie for browser clients
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	resp := LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	}
	resp.User.ID = user.ID
	resp.User.Username = user.Username
	resp.User.DisplayName = user.DisplayName
	resp.User.Role = user.Role

	WriteJSON(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := ExtractSessionToken(r)
	if token == "" {
		WriteUnauthorized(w, ReasonUnauthenticated, "no session token provided")
		return
	}

	h.sessions.Delete(r.Context(), token)

	// Clear cookie
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		MaxAge:   -1,
	})

	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// GetCurrentUser handles GET /api/auth/me.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	token := ExtractSessionToken(r)
	if token == "" {
		WriteUnauthorized(w, ReasonUnauthenticated, "no session token provided")
		return
	}

	ctx := r.Context()
	session, err := h.sessions.Get(ctx, token)
	if err != nil {
		WriteUnauthorized(w, ReasonSessionExpired, "session expired or invalid")
		return
	}

	user, err := h.repo.Get(ctx, session.UserID)
	if err != nil {
		WriteUnauthorized(w, ReasonUnauthenticated, "user not found")
		return
	}

	resp := struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        user.Role,
	}

	WriteJSON(w, http.StatusOK, resp)
}

// ExtractSessionToken gets the session token from the Authorization header
// or the session cookie.
func ExtractSessionToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}

	cookie, err := r.Cookie("session")
	if err == nil {
		return cookie.Value
	}

	return ""
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
