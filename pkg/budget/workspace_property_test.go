//go:build property
// +build property

package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/astrid-sh/astrid-guard/pkg/kvstore"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestWorkspaceBudgetNeverOverspendsUnderConcurrency: for all sequences of
// concurrent CheckAndReserve calls against one WorkspaceTracker, the sum
// of successfully reserved amounts never exceeds workspaceMax. The
// tracker's mutex serialises check-then-reserve, so no interleaving of
// concurrent callers can observe a stale spend total.
func TestWorkspaceBudgetNeverOverspendsUnderConcurrency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent reservations never overshoot the workspace cap", prop.ForAll(
		func(costs []int) bool {
			const workspaceMax = 1000.0

			ctx := context.Background()
			tr, err := NewWorkspaceTracker(ctx, kvstore.NewMemoryStore(), "ws-1", workspaceMax)
			if err != nil {
				return false
			}

			var wg sync.WaitGroup
			for _, c := range costs {
				cost := float64(c % 200) // bound individual costs to something reservable
				wg.Add(1)
				go func(cost float64) {
					defer wg.Done()
					_, _ = tr.CheckAndReserve(ctx, cost)
				}(cost)
			}
			wg.Wait()

			return tr.CurrentSpend() <= workspaceMax
		},
		gen.SliceOfN(50, gen.IntRange(0, 500)),
	))

	properties.TestingRun(t)
}

// TestWorkspaceBudgetExactLimitBoundary: a reservation equal to the
// remaining cap succeeds; exceeding it by any positive amount fails.
func TestWorkspaceBudgetExactLimitBoundary(t *testing.T) {
	ctx := context.Background()
	tr, err := NewWorkspaceTracker(ctx, kvstore.NewMemoryStore(), "ws-2", 100)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.CheckAndReserve(ctx, 100); err != nil {
		t.Fatalf("exact-limit reservation should succeed: %v", err)
	}

	tr2, err := NewWorkspaceTracker(ctx, kvstore.NewMemoryStore(), "ws-3", 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr2.CheckAndReserve(ctx, 100.000001); err == nil {
		t.Fatal("reservation exceeding the cap by any amount should fail")
	}
}
