package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store is the minimal persistence collaborator a WorkspaceTracker needs
// to survive process restarts. pkg/kvstore.Store satisfies this.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
}

const workspaceNamespace = "budget_workspace"

// WorkspaceTracker layers a cumulative-across-sessions total on top of
// per-session trackers. The interceptor consults it before the session
// tracker so that workspace caps bind first (§4.4 ordering).
type WorkspaceTracker struct {
	mu           sync.Mutex
	workspaceID  string
	workspaceMax float64
	spend        float64
	store        Store
}

type workspaceSnapshot struct {
	Spend float64 `json:"spend"`
}

// NewWorkspaceTracker loads (or initializes) the persisted spend total
// for workspaceID.
func NewWorkspaceTracker(ctx context.Context, store Store, workspaceID string, workspaceMax float64) (*WorkspaceTracker, error) {
	wt := &WorkspaceTracker{workspaceID: workspaceID, workspaceMax: workspaceMax, store: store}
	data, ok, err := store.Get(ctx, workspaceNamespace, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("budget: load workspace snapshot: %w", err)
	}
	if ok {
		var snap workspaceSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("budget: decode workspace snapshot: %w", err)
		}
		wt.spend = snap.Spend
	}
	return wt, nil
}

// CheckAndReserve atomically reserves cost against the workspace-wide
// cap, persisting the new total on success. If workspaceMax is zero,
// the workspace tracker imposes no cap (unbounded).
func (t *WorkspaceTracker) CheckAndReserve(ctx context.Context, cost float64) (*Warning, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.workspaceMax > 0 {
		newSpend := t.spend + cost
		if newSpend > t.workspaceMax {
			return nil, &ExceededError{LimitKind: LimitWorkspace, Requested: cost, Remaining: t.workspaceMax - t.spend}
		}
	}

	prevSpend := t.spend
	t.spend += cost

	if err := t.persist(ctx); err != nil {
		t.spend = prevSpend
		return nil, err
	}

	return warningFor(prevSpend, t.spend, t.workspaceMax), nil
}

// RecordCost accumulates cost unconditionally and persists the new total.
func (t *WorkspaceTracker) RecordCost(ctx context.Context, cost float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spend += cost
	return t.persist(ctx)
}

func (t *WorkspaceTracker) persist(ctx context.Context) error {
	data, err := json.Marshal(workspaceSnapshot{Spend: t.spend})
	if err != nil {
		return fmt.Errorf("budget: encode workspace snapshot: %w", err)
	}
	if err := t.store.Set(ctx, workspaceNamespace, t.workspaceID, data); err != nil {
		return fmt.Errorf("budget: persist workspace snapshot: %w", err)
	}
	return nil
}

// CurrentSpend returns the tracker's running total.
func (t *WorkspaceTracker) CurrentSpend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spend
}
