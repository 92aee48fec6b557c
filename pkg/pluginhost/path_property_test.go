//go:build property
// +build property

package pluginhost

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestResolvePhysicalAbsoluteAlwaysContained: for all paths offered to a
// host function, the resolved physical path either has the canonical
// workspace root as a prefix, or the call errors with "escapes workspace
// boundary" — there is no third outcome.
func TestResolvePhysicalAbsoluteAlwaysContained(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every resolution is either contained or rejected as an escape", prop.ForAll(
		func(upCount int, leaf string) bool {
			if leaf == "" || strings.ContainsAny(leaf, "/\\") {
				return true // not a meaningful single path component
			}

			workspace := t.TempDir()
			requested := strings.Repeat("../", upCount) + leaf

			resolved, err := ResolvePhysicalAbsolute(workspace, requested)
			if err != nil {
				return strings.Contains(err.Error(), "escapes workspace boundary")
			}

			canonicalWorkspace, evalErr := filepath.EvalSymlinks(workspace)
			if evalErr != nil {
				canonicalWorkspace = workspace
			}
			rel, relErr := filepath.Rel(canonicalWorkspace, resolved)
			return relErr == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
		},
		gen.IntRange(0, 6),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
