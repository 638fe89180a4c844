// Package wopi implements the files endpoint of the WOPI protocol: the
// surface a browser office editor talks to for file metadata, content,
// locks, saves, and save-as. Requests authenticate with a share token in
// the access_token query parameter; invalid tokens answer 404, never 401,
// so a prober learns nothing about token existence.
package wopi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opendochost/wopihost/internal/appctx"
	"github.com/opendochost/wopihost/internal/credentials"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/share"
)

// Config carries the handler's environment.
type Config struct {
	// BaseURL is the external URL prefix requests arrive under, without a
	// trailing slash. PutRelativeFile response URLs are minted against it.
	BaseURL string

	// Origin is the scheme://host the editor may postMessage to.
	Origin string

	ServerVersion string
	MachineName   string

	// StrictLocks makes PutFile insist on a matching lock token whenever
	// the file is locked. Off by default: the usual editor engine never
	// locks, and refusing its saves would lose data.
	StrictLocks bool
}

// Handler serves the /wopi/files routes.
type Handler struct {
	shares   *share.Manager
	creds    *credentials.Manager
	resolver *Resolver
	parties  identity.PartyRepo
	cfg      Config
	log      *slog.Logger
}

func NewHandler(shares *share.Manager, creds *credentials.Manager, parties identity.PartyRepo, cfg Config, log *slog.Logger) *Handler {
	return &Handler{
		shares:   shares,
		creds:    creds,
		resolver: NewResolver(shares.Repo()),
		parties:  parties,
		cfg:      cfg,
		log:      log,
	}
}

// Routes mounts the WOPI files surface.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/wopi/files/{id}", func(r chi.Router) {
		r.Get("/", h.serveFile)
		r.Post("/", h.serveFile)
		r.Get("/contents", h.serveContents)
		r.Post("/contents", h.serveContents)
	})
}

// reqContext is everything a verb handler needs: the impersonated session,
// the resolved path, and the identity the URL named it by.
type reqContext struct {
	handle *share.SessionHandle
	path   string
	id     FileID
	lock   lockStore
}

// verbs is the static registry mapping X-WOPI-Override values to their
// handlers. An empty verb means CheckFileInfo.
var verbs = map[string]func(*Handler, http.ResponseWriter, *http.Request, *reqContext){
	"LOCK":         (*Handler).lockFile,
	"GET_LOCK":     (*Handler).getLock,
	"REFRESH_LOCK": (*Handler).refreshLock,
	"UNLOCK":       (*Handler).unlockFile,
	"PUT":          (*Handler).putFile,
	"PUT_RELATIVE": (*Handler).putRelativeFile,
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	verb := r.Header.Get("X-WOPI-Override")
	if verb == "" {
		h.checkFileInfo(w, r, rc)
		return
	}
	fn, known := verbs[verb]
	if !known {
		h.log.Warn("unknown override verb", "verb", verb)
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	fn(h, w, r, rc)
}

func (h *Handler) serveContents(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	// Verbs dispatch before the URL form: the editor engine sends PutFile
	// as a POST to /contents with X-WOPI-Override: PUT. Only a verbless
	// request streams the file.
	verb := r.Header.Get("X-WOPI-Override")
	if verb == "" {
		h.getFile(w, r, rc)
		return
	}
	fn, known := verbs[verb]
	if !known {
		h.log.Warn("unknown override verb", "verb", verb)
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	fn(h, w, r, rc)
}

// authenticate validates the access token, impersonates the share, and
// resolves the file identity in the URL. Every failure is a bare 404.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*reqContext, bool) {
	ctx := r.Context()
	log := appctx.Logger(ctx)

	w.Header().Set("X-WOPI-ServerVersion", h.cfg.ServerVersion)
	w.Header().Set("X-WOPI-MachineName", h.cfg.MachineName)

	token, credIdx := splitCredentialIndex(r.URL.Query().Get("access_token"))

	s, err := h.shares.Resolve(ctx, token)
	if err != nil {
		log.Info("token rejected", "reason", err.Error())
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	if credIdx >= 0 {
		username, _, err := h.creds.Get(ctx, token, credIdx)
		if err != nil {
			log.Info("credential slot rejected", "index", credIdx)
			w.WriteHeader(http.StatusNotFound)
			return nil, false
		}
		log.Debug("credential slot resolved", "index", credIdx, "username", username)
	}

	handle, err := h.shares.Impersonate(ctx, s, "")
	if err != nil {
		log.Warn("impersonation failed", "error", err)
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	id, err := ParseFileID(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	p, err := h.resolver.PathFromID(ctx, handle.FS, id, s.Path)
	if err != nil {
		log.Info("file identity unresolvable", "id", id.String())
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	return &reqContext{
		handle: handle,
		path:   p,
		id:     id,
		lock:   lockStore{fs: handle.FS},
	}, true
}

// splitCredentialIndex peels an optional ":<index>" suffix off the access
// token. Targets that still require a username/password carry the slot
// index this way.
func splitCredentialIndex(token string) (string, int) {
	i := strings.LastIndex(token, ":")
	if i < 0 {
		return token, -1
	}
	idx, err := strconv.Atoi(token[i+1:])
	if err != nil || idx < 0 {
		return token, -1
	}
	return token[:i], idx
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
