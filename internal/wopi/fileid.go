package wopi

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/opendochost/wopihost/internal/share"
	"github.com/opendochost/wopihost/internal/vfs"
)

// ErrUnresolvable is returned when a file identity cannot be mapped to a
// path, or a path to an identity.
var ErrUnresolvable = errors.New("file identity unresolvable")

// FileID is the identity a WOPI URL names a file by. It is either an
// intrinsic storage-layer identifier, or a fallback derived from a share's
// numeric ID when the backend exposes no native identifiers. On the wire
// fallback IDs are negative, so the two kinds never collide in range.
type FileID struct {
	n        uint64
	fallback bool
}

// Intrinsic wraps a storage-layer identifier.
func Intrinsic(id uint64) FileID {
	return FileID{n: id}
}

// FallbackID wraps a share-derived identifier.
func FallbackID(shareID uint64) FileID {
	return FileID{n: shareID, fallback: true}
}

// IsFallback reports whether the identity is share-derived.
func (f FileID) IsFallback() bool {
	return f.fallback
}

// Value returns the raw identifier: the intrinsic ID, or the share ID for
// fallback identities.
func (f FileID) Value() uint64 {
	return f.n
}

// String renders the wire form: "N" for intrinsic, "-N" for fallback.
func (f FileID) String() string {
	if f.fallback {
		return "-" + strconv.FormatUint(f.n, 10)
	}
	return strconv.FormatUint(f.n, 10)
}

// ParseFileID parses the wire form.
func ParseFileID(s string) (FileID, error) {
	fallback := strings.HasPrefix(s, "-")
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "-"), 10, 64)
	if err != nil || n == 0 {
		return FileID{}, fmt.Errorf("%w: bad file id %q", ErrUnresolvable, s)
	}
	return FileID{n: n, fallback: fallback}, nil
}

// Resolver maps between paths and file identities. It prefers intrinsic
// storage identifiers and falls back to share IDs for backends without them.
type Resolver struct {
	shares share.Repo
}

func NewResolver(shares share.Repo) *Resolver {
	return &Resolver{shares: shares}
}

// IDFromPath returns the identity for a path. The storage layer reports the
// minimum intrinsic ID across all versions, so the identity stays stable
// across version bumps. When the backend has no intrinsic IDs, the lowest
// unexpired share ID for the exact path is used instead, negated on the wire.
func (r *Resolver) IDFromPath(ctx context.Context, fs vfs.Filesystem, p string) (FileID, error) {
	id, err := fs.FileID(ctx, p)
	switch {
	case err == nil:
		return Intrinsic(id), nil
	case errors.Is(err, vfs.ErrNoIntrinsicID):
		shareID, err := r.shares.MinActiveIDByPath(ctx, path.Clean(p))
		if err != nil {
			return FileID{}, fmt.Errorf("%w: no share covers %s", ErrUnresolvable, p)
		}
		return FallbackID(shareID), nil
	default:
		return FileID{}, fmt.Errorf("%w: %s", ErrUnresolvable, p)
	}
}

// PathFromID resolves an identity back to a path and cross-checks it against
// the path the request's share token points at. When the two disagree and the
// resolved path is a version-named copy of the token's path, the token's path
// wins, so browsing version history never changes which file "the" file is.
// Any other disagreement is unresolvable.
func (r *Resolver) PathFromID(ctx context.Context, view *vfs.Scoped, id FileID, tokenPath string) (string, error) {
	tokenPath = path.Clean(tokenPath)

	var resolved string
	if id.IsFallback() {
		s, err := r.shares.GetByID(ctx, id.Value())
		if err != nil || s.Expired() {
			return "", fmt.Errorf("%w: fallback id %s", ErrUnresolvable, id)
		}
		resolved = path.Clean(s.Path)
	} else {
		// The raw backend resolves version-named copies too; the scope
		// check happens after reconciliation.
		p, err := view.Backend().PathByID(ctx, id.Value())
		if err != nil {
			return "", fmt.Errorf("%w: id %s", ErrUnresolvable, id)
		}
		resolved = path.Clean(p)
	}

	if resolved != tokenPath {
		if !isVersionAlias(resolved, tokenPath) {
			return "", fmt.Errorf("%w: id %s names %s, token names %s", ErrUnresolvable, id, resolved, tokenPath)
		}
		resolved = tokenPath
	}
	if !view.Exists(ctx, resolved) {
		return "", fmt.Errorf("%w: %s not visible", ErrUnresolvable, resolved)
	}
	return resolved, nil
}

// versionAliasRe matches the "<id> - <basename>" naming convention used for
// version-named copies. Recognized here and nowhere else.
var versionAliasRe = regexp.MustCompile(`^\d+ - (.+)$`)

// isVersionAlias reports whether alias is a version-named copy of p living
// in the same directory.
func isVersionAlias(alias, p string) bool {
	if path.Dir(alias) != path.Dir(p) {
		return false
	}
	m := versionAliasRe.FindStringSubmatch(path.Base(alias))
	return m != nil && m[1] == path.Base(p)
}
