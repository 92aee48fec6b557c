package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/astrid-sh/astrid-guard/pkg/allowance"
	"github.com/astrid-sh/astrid-guard/pkg/deferred"
	"github.com/google/uuid"
)

// Manager orchestrates allowance lookup, handler prompt, and deferred
// enqueue for a single session.
type Manager struct {
	mu        sync.RWMutex
	handler   Handler
	allowance *allowance.Cache
	deferred  *deferred.Queue
	sessionID string
}

// NewManager builds an approval manager for one agent session.
func NewManager(allowanceCache *allowance.Cache, deferredQueue *deferred.Queue, sessionID string) *Manager {
	return &Manager{allowance: allowanceCache, deferred: deferredQueue, sessionID: sessionID}
}

// RegisterHandler swaps in the active approval handler. A nil handler
// means "no handler available" and forces every request to defer.
func (m *Manager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// CheckApproval runs the three-step sequence from §4.6: allowance lookup,
// handler prompt, and (on no answer) deferred enqueue.
func (m *Manager) CheckApproval(ctx context.Context, act action.Action, context_ string) (Outcome, error) {
	outcome, err := m.decide(ctx, act, context_)
	if err != nil {
		return Outcome{}, err
	}
	if outcome != nil {
		return *outcome, nil
	}

	res, err := m.deferred.Enqueue(ctx, m.sessionID, act, context_, false, "no approval handler registered")
	if err != nil {
		return Outcome{}, fmt.Errorf("approval: enqueue deferred: %w", err)
	}
	return Outcome{Kind: OutcomeDeferred, Res: DeferInfo{ResolutionID: res.ID, Fallback: "deny"}}, nil
}

// decide runs the allowance lookup and handler prompt without touching the
// deferred queue. A nil, nil return means "no handler available" — the
// caller decides whether that means enqueue-fresh (CheckApproval) or
// remains-deferred (ReplayPending).
func (m *Manager) decide(ctx context.Context, act action.Action, context_ string) (*Outcome, error) {
	if a := m.allowance.Lookup(act.Class(), act.Resource()); a != nil {
		o := Outcome{Kind: OutcomeAllowed, Proof: Proof{Kind: ProofAllowance, AllowanceID: a.ID}}
		return &o, nil
	}

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()

	if handler == nil || !handler.IsAvailable() {
		return nil, nil
	}

	req := Request{ID: uuid.New(), Action: act, Context: context_}
	resp, err := handler.RequestApproval(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("approval: handler request: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	o := m.applyDecision(resp.Decision)
	return &o, nil
}

func (m *Manager) applyDecision(d Decision) Outcome {
	switch d.Kind {
	case DecisionDeny:
		return Outcome{Kind: OutcomeDenied, Reason: d.Reason}
	case DecisionApprove:
		return Outcome{Kind: OutcomeAllowed, Proof: Proof{Kind: ProofOneTimeApproval}}
	case DecisionApproveWithScope:
		switch d.Scope {
		case ScopeSession:
			return Outcome{Kind: OutcomeAllowed, Proof: Proof{Kind: ProofSessionApproval}}
		case ScopeWorkspace:
			return Outcome{Kind: OutcomeAllowed, Proof: Proof{Kind: ProofWorkspaceApproval}}
		case ScopeAlways:
			return Outcome{Kind: OutcomeAllowed, Proof: Proof{Kind: ProofAlwaysAllow}}
		}
	}
	return Outcome{Kind: OutcomeDenied, Reason: "unrecognised approval decision"}
}

// ReplayPending re-presents every deferred resolution still outstanding
// for the manager's session, used on runtime restart (§4.9). Resolutions
// belonging to sessions no longer live should instead be resolved
// directly via deferred.Queue with their fallback decision applied by
// the caller — ReplayPending only handles the still-live case.
func (m *Manager) ReplayPending(ctx context.Context) ([]Outcome, error) {
	pending, err := m.deferred.Pending(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}

	outcomes := make([]Outcome, 0, len(pending))
	for _, res := range pending {
		outcome, err := m.decide(ctx, res.Action, res.Context)
		if err != nil {
			return nil, err
		}
		if outcome == nil {
			// Still no handler available: the resolution stays queued
			// under its original id, unchanged.
			outcomes = append(outcomes, Outcome{Kind: OutcomeDeferred, Res: DeferInfo{ResolutionID: res.ID, Fallback: "deny"}})
			continue
		}
		if err := m.deferred.Resolve(ctx, m.sessionID, res.ID); err != nil {
			return nil, fmt.Errorf("approval: resolve replayed deferral: %w", err)
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes, nil
}
