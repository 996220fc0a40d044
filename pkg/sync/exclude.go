package sync

import (
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/safiul0073/CodeLift/pkg/errors"
)

// DefaultExcludes are paths that belong to the installation rather than the
// release, and so are never overwritten by an update.
var DefaultExcludes = []string{
	".env",
	"vendor",
	"storage",
	"node_modules",
	"composer.lock",
}

// Excluder decides whether a relative path is managed by the synchronizer.
type Excluder struct {
	prefixes []string
	globs    []glob.Glob
}

// NewExcluder creates an Excluder that excludes `prefixes` and everything
// beneath them, as well as paths matching any of the glob `patterns`.
func NewExcluder(prefixes, patterns []string) (Excluder, error) {
	excluder := Excluder{}
	for _, p := range prefixes {
		p = strings.Trim(path.Clean("/"+p), "/")
		if p != "" {
			excluder.prefixes = append(excluder.prefixes, p)
		}
	}

	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Excluder{}, errors.WithContext(err, "compile exclude pattern "+p)
		}
		excluder.globs = append(excluder.globs, g)
	}
	return excluder, nil
}

// Excluded returns whether `relPath` should be skipped. A path is excluded if
// it equals a prefix, lies beneath one, or is a dotted variant of one (such
// as `.env.example` for `.env`).
func (excluder Excluder) Excluded(relPath string) bool {
	relPath = path.Clean(relPath)
	firstSegment := strings.SplitN(relPath, "/", 2)[0]
	for _, p := range excluder.prefixes {
		if relPath == p || strings.HasPrefix(relPath, p+"/") ||
			(!strings.Contains(p, "/") && strings.HasPrefix(firstSegment, p+".")) {
			return true
		}
	}

	if len(excluder.globs) == 0 {
		return false
	}

	// Patterns are checked against the path and each of its parents so that
	// excluding a directory excludes its contents.
	candidate := relPath
	for {
		for _, g := range excluder.globs {
			if g.Match(candidate) {
				return true
			}
		}
		parent := path.Dir(candidate)
		if parent == "." || parent == "/" || parent == candidate {
			return false
		}
		candidate = parent
	}
}
