package wopi

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/opendochost/wopihost/internal/vfs"
)

var (
	// Anything outside word characters, whitespace, and -_~,;[]().
	disallowedChars = regexp.MustCompile(`[^\w\s\-_~,;\[\]().]`)

	// Runs of two or more periods.
	dotRuns = regexp.MustCompile(`\.{2,}`)
)

// CleanFilename reduces a name to its base and strips characters the host
// refuses in filenames. Pure: the result for an already-clean name is the
// name itself.
func CleanFilename(name string) string {
	name = path.Base(name)
	name = disallowedChars.ReplaceAllString(name, "")
	name = dotRuns.ReplaceAllString(name, "")
	return name
}

// StripRedundantExt drops a doubled trailing extension, so a suggested
// "report.odt.odt" lands as "report.odt".
func StripRedundantExt(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return name
	}
	stem := strings.TrimSuffix(name, ext)
	if path.Ext(stem) == ext {
		return stem
	}
	return name
}

// UniqueName makes file unique within dir by appending " (N)" before the
// extension, starting at 2 and counting up. This never fails on collision.
func UniqueName(ctx context.Context, fs vfs.Filesystem, dir, file string) string {
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)

	candidate := file
	for n := 2; fs.Exists(ctx, path.Join(dir, candidate)); n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	return candidate
}
