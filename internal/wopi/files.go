package wopi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/opendochost/wopihost/internal/appctx"
	"github.com/opendochost/wopihost/internal/identity"
	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/vfs"
)

// autosaveProp is the path property holding the modification time of the
// last autosave, used to coalesce autosave bursts into one version.
const autosaveProp = "wopi-autosave-time"

// autosaveWindow bounds how long a burst can run before the next save opens
// a fresh version anyway.
const autosaveWindow = 2 * time.Hour

// lastModified renders mtimes the way the editor expects: ISO-8601 UTC with
// fractional seconds.
func lastModified(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.9999999Z")
}

// checkFileInfo answers the capability/permission/size descriptor the editor
// loads first.
func (h *Handler) checkFileInfo(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()

	st, err := rc.handle.FS.Stat(ctx, rc.path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	mode := rc.handle.Share.Mode
	canWrite := mode.Writable() && rc.handle.FS.IsWritable(ctx, rc.path)

	// Shares that hand a single file to a third party deliberately forbid
	// filesystem navigation, even though the content itself is writable.
	canTraverse := mode == share.ModeWritable

	ownerID := st.OwnerID
	if ownerID == "" {
		ownerID = rc.handle.Share.OwnerID
	}

	info := map[string]any{
		"BaseFileName":     path.Base(rc.path),
		"OwnerId":          ownerID,
		"Size":             st.Size,
		"UserId":           rc.handle.User.ID,
		"LastModifiedTime": lastModified(st.ModTime),

		"PostMessageOrigin": h.cfg.Origin,

		"SupportsGetLock": true,
		"SupportsLocks":   true,
		"SupportsUpdate":  true,
		"SupportsRename":  canTraverse,

		"ReadOnly":                !canWrite,
		"UserCanWrite":            canWrite,
		"UserCanRename":           canTraverse && canWrite,
		"UserCanNotWriteRelative": !canTraverse,
		"UserFriendlyName":        identity.UsernameOf(ctx, h.parties, rc.handle.User.ID),

		"DisablePrint":  false,
		"DisableExport": false,
		"DisableCopy":   false,
	}
	writeJSON(w, http.StatusOK, info)
}

// getFile streams the current content.
func (h *Handler) getFile(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()

	st, err := rc.handle.FS.Stat(ctx, rc.path)
	if err != nil || st.IsDir {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	f, err := rc.handle.FS.Open(ctx, rc.path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(rc.path)}))
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = io.Copy(w, f)
}

// lockFile takes a lock, refreshes it in place, or performs the
// unlock-and-relock dance when X-WOPI-OldLock is present.
func (h *Handler) lockFile(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()

	token := r.Header.Get("X-WOPI-Lock")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	owner := rc.handle.User.ID

	if oldLock := r.Header.Get("X-WOPI-OldLock"); oldLock != "" {
		cur, err := rc.lock.Check(ctx, rc.path)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if cur == nil || cur.Token != oldLock {
			echoLock(w, cur)
			w.WriteHeader(http.StatusConflict)
			return
		}
		if _, err := rc.lock.Release(ctx, rc.path, oldLock); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	ok, err := rc.lock.Acquire(ctx, rc.path, token, owner)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		cur, _ := rc.lock.Check(ctx, rc.path)
		echoLock(w, cur)
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.Header().Set("X-WOPI-Lock", token)
	w.WriteHeader(http.StatusOK)
}

// getLock reports the current lock token, empty when unlocked.
func (h *Handler) getLock(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	cur, err := rc.lock.Check(r.Context(), rc.path)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	echoLock(w, cur)
	w.WriteHeader(http.StatusOK)
}

// refreshLock extends the TTL when the token matches the holder.
func (h *Handler) refreshLock(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()

	token := r.Header.Get("X-WOPI-Lock")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ok, err := rc.lock.Refresh(ctx, rc.path, token, rc.handle.User.ID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-WOPI-Lock", token)
	if !ok {
		cur, _ := rc.lock.Check(ctx, rc.path)
		echoLock(w, cur)
		w.WriteHeader(http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// unlockFile releases the lock. Unlocking an unlocked file succeeds.
func (h *Handler) unlockFile(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()

	token := r.Header.Get("X-WOPI-Lock")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cur, err := rc.lock.Check(ctx, rc.path)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if cur == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if cur.Token != token {
		echoLock(w, cur)
		w.WriteHeader(http.StatusConflict)
		return
	}
	if _, err := rc.lock.Release(ctx, rc.path, token); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// putFile overwrites the content. The editor engine in use never locks, so
// a lock is not required to proceed unless strict_locks is on; a lock token
// that is present but wrong is always a conflict.
func (h *Handler) putFile(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()
	log := appctx.Logger(ctx)

	if !rc.handle.Share.Mode.Writable() || !rc.handle.FS.IsWritable(ctx, rc.path) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	token := r.Header.Get("X-WOPI-Lock")
	cur, err := rc.lock.Check(ctx, rc.path)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if cur != nil {
		if token != "" && token != cur.Token {
			echoLock(w, cur)
			w.WriteHeader(http.StatusConflict)
			return
		}
		if token == "" && h.cfg.StrictLocks {
			echoLock(w, cur)
			w.WriteHeader(http.StatusConflict)
			return
		}
	}

	st, err := rc.handle.FS.Stat(ctx, rc.path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	suppress := false
	if stamp, err := rc.handle.FS.GetProp(ctx, rc.path, autosaveProp); err == nil {
		if at, perr := time.Parse(time.RFC3339Nano, stamp); perr == nil {
			// Same mtime as the last autosave and still inside the
			// window: continuation of the burst, keep one version.
			// A manual save always versions, even right after a burst.
			if isAutosave(r) && at.Equal(st.ModTime) && time.Since(at) < autosaveWindow {
				suppress = true
			}
		}
	}

	info, err := rc.handle.FS.WriteFile(ctx, rc.path, r.Body, vfs.WriteOptions{SuppressVersion: suppress})
	if err != nil {
		if errors.Is(err, vfs.ErrPermission) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-WOPI-ServerError", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if isAutosave(r) {
		if err := rc.handle.FS.SetProp(ctx, rc.path, autosaveProp, info.ModTime.Format(time.RFC3339Nano)); err != nil {
			log.Warn("stamping autosave property failed", "error", err)
		}
	} else {
		if err := rc.handle.FS.RemoveProp(ctx, rc.path, autosaveProp); err != nil {
			log.Warn("clearing autosave property failed", "error", err)
		}
	}

	log.Info("file saved",
		"path", rc.path,
		"size", info.Size,
		"autosave", isAutosave(r),
		"version_suppressed", suppress)
	writeJSON(w, http.StatusOK, map[string]any{
		"Size":             info.Size,
		"LastModifiedTime": lastModified(info.ModTime),
	})
}

// isAutosave reports whether the editor flagged the save as an autosave.
func isAutosave(r *http.Request) bool {
	return r.Header.Get("X-LOOL-WOPI-IsAutosave") == "true" ||
		r.Header.Get("X-COOL-WOPI-IsAutosave") == "true"
}

// putRelativeFile creates a new file near the current one (Save As).
func (h *Handler) putRelativeFile(w http.ResponseWriter, r *http.Request, rc *reqContext) {
	ctx := r.Context()
	log := appctx.Logger(ctx)

	// Only direct writable shares may create files; shares handing one
	// file to a third party forbid navigation.
	if rc.handle.Share.Mode != share.ModeWritable {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	suggested := r.Header.Get("X-WOPI-SuggestedTarget")
	relative := r.Header.Get("X-WOPI-RelativeTarget")
	overwrite := r.Header.Get("X-WOPI-OverwriteRelativeTarget") == "true"
	token := r.Header.Get("X-WOPI-Lock")

	if suggested != "" && relative != "" {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	// No target at all is refused outright rather than derived from the
	// current name; save-as without a name is a client bug.
	if suggested == "" && relative == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	dir := path.Dir(rc.path)
	var target string

	switch {
	case suggested != "":
		// A leading dot means extension-only: splice it onto the
		// current file's stem.
		if suggested[0] == '.' {
			base := path.Base(rc.path)
			suggested = strings.TrimSuffix(base, path.Ext(base)) + suggested
		}
		name := CleanFilename(StripRedundantExt(suggested))
		if name == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		target = path.Join(dir, UniqueName(ctx, rc.handle.FS, dir, name))

	case relative != "":
		clean := CleanFilename(relative)
		if clean != relative {
			w.Header().Set("X-WOPI-ValidRelativeTarget", clean)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		target = path.Join(dir, relative)
		if rc.handle.FS.Exists(ctx, target) {
			cur, err := rc.lock.Check(ctx, target)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if !overwrite || (cur != nil && cur.Token != token) {
				echoLock(w, cur)
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
	}

	if !rc.handle.FS.IsWritable(ctx, dir) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := rc.handle.FS.WriteFile(ctx, target, r.Body, vfs.WriteOptions{})
	if err != nil {
		if errors.Is(err, vfs.ErrPermission) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-WOPI-ServerError", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// A save-as always starts a fresh version lineage.
	_ = rc.handle.FS.RemoveProp(ctx, target, autosaveProp)

	// The response deliberately does not reuse the old file's identity:
	// a fresh token and a fresh ID are minted for the new path.
	fresh, err := h.shares.Issue(ctx, share.IssueOptions{
		Path:    target,
		Mode:    share.ModeWritable,
		OwnerID: rc.handle.Share.OwnerID,
	})
	if err != nil {
		w.Header().Set("X-WOPI-ServerError", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	id, err := h.resolver.IDFromPath(ctx, rc.handle.FS, target)
	if err != nil {
		w.Header().Set("X-WOPI-ServerError", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	log.Info("file created via save-as",
		"path", target,
		"size", info.Size,
		"file_id", id.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"Name": path.Base(target),
		"Url": fmt.Sprintf("%s/wopi/files/%s?access_token=%s",
			h.cfg.BaseURL, id.String(), url.QueryEscape(fresh.Token)),
	})
}

// echoLock sets X-WOPI-Lock to the authoritative holder, empty when none.
func echoLock(w http.ResponseWriter, l *vfs.Lock) {
	if l != nil {
		w.Header().Set("X-WOPI-Lock", l.Token)
	} else {
		w.Header().Set("X-WOPI-Lock", "")
	}
}
