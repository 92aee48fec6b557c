package pluginhost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// makeRelative strips any leading path separators (or, on platforms with a
// volume prefix, the volume itself) from a guest-supplied path, so a guest
// cannot simply ask for "/etc/passwd" and have it treated as absolute.
func makeRelative(requested string) string {
	p := filepath.FromSlash(requested)
	for {
		if vol := filepath.VolumeName(p); vol != "" {
			p = strings.TrimPrefix(p, vol)
			continue
		}
		trimmed := strings.TrimPrefix(p, string(filepath.Separator))
		if trimmed == p {
			break
		}
		p = trimmed
	}
	return p
}

// ResolvePhysicalAbsolute computes the true physical path a guest-supplied,
// workspace-relative path resolves to on the host filesystem, defeating
// symlink escape by canonicalising before the containment check rather
// than after (§4.8 step 2). The procedure:
//
//  1. Canonicalise the workspace root.
//  2. Join the (forcibly relative) guest path onto it.
//  3. Walk upward from the joined path until an ancestor that exists on
//     disk is found, collecting the non-existing path components along
//     the way.
//  4. Canonicalise that existing ancestor and re-append the collected
//     components.
//  5. Reject the result unless it has the canonical workspace root as a
//     path prefix.
func ResolvePhysicalAbsolute(workspaceRoot, requested string) (string, error) {
	canonicalRoot, err := filepath.EvalSymlinks(workspaceRoot)
	if err != nil {
		canonicalRoot = workspaceRoot
	}
	canonicalRoot = filepath.Clean(canonicalRoot)

	joined := filepath.Join(canonicalRoot, makeRelative(requested))

	current := joined
	var unresolved []string
	for {
		if _, err := os.Lstat(current); err == nil {
			canonical, err := filepath.EvalSymlinks(current)
			if err != nil {
				canonical = current
			}
			final := canonical
			for i := len(unresolved) - 1; i >= 0; i-- {
				final = filepath.Join(final, unresolved[i])
			}
			if !withinRoot(final, canonicalRoot) {
				return "", fmt.Errorf("path escapes workspace boundary: %s resolves to %s", requested, final)
			}
			return final, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		unresolved = append(unresolved, filepath.Base(current))
		current = parent
	}

	if !withinRoot(joined, canonicalRoot) {
		return "", fmt.Errorf("path escapes workspace boundary: %s resolves to %s", requested, joined)
	}
	return joined, nil
}

// withinRoot reports whether path is equal to root or lives underneath it,
// comparing path components rather than raw strings so that a root of
// "/w" does not accept a sibling like "/w-evil".
func withinRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}
