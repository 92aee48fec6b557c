// Package approval mediates between the security interceptor and an
// optional, swappable approval handler (a TUI prompt, a chat connector,
// or the deferred queue when no synchronous human is available).
package approval

import (
	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/google/uuid"
)

// Scope names the breadth of an ApproveWithScope decision.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeWorkspace Scope = "workspace"
	ScopeAlways    Scope = "always"
)

// DecisionKind discriminates Decision's variant.
type DecisionKind string

const (
	DecisionApprove          DecisionKind = "approve"
	DecisionApproveWithScope DecisionKind = "approve_with_scope"
	DecisionDeny             DecisionKind = "deny"
)

// Decision is the handler's verdict on a single ApprovalRequest.
type Decision struct {
	Kind   DecisionKind
	Scope  Scope  // set when Kind == DecisionApproveWithScope
	Reason string // set when Kind == DecisionDeny
}

// Request is presented to an ApprovalHandler.
type Request struct {
	ID      uuid.UUID
	Action  action.Action
	Context string
}

// Response pairs a Request's ID with the handler's Decision.
type Response struct {
	RequestID uuid.UUID
	Decision  Decision
}

// ProofKind discriminates ApprovalProof's variant.
type ProofKind string

const (
	// ProofAllowance means an existing allowance already covered the
	// action; AllowanceID is populated.
	ProofAllowance         ProofKind = "allowance"
	ProofOneTimeApproval   ProofKind = "one_time_approval"
	// ProofSessionApproval / ProofWorkspaceApproval mean the handler
	// approved with that scope; no allowance exists yet — the
	// interceptor creates one and is responsible for recording its id.
	ProofSessionApproval   ProofKind = "session_approval"
	ProofWorkspaceApproval ProofKind = "workspace_approval"
	ProofAlwaysAllow       ProofKind = "always_allow"
)

// Proof is what the approval manager hands back on an Allowed outcome;
// the interceptor maps it onto an InterceptProof.
type Proof struct {
	Kind        ProofKind
	AllowanceID uuid.UUID // set only when Kind == ProofAllowance
}

// OutcomeKind discriminates Outcome's variant.
type OutcomeKind string

const (
	OutcomeAllowed  OutcomeKind = "allowed"
	OutcomeDenied   OutcomeKind = "denied"
	OutcomeDeferred OutcomeKind = "deferred"
)

// Outcome is what CheckApproval returns to the interceptor.
type Outcome struct {
	Kind   OutcomeKind
	Proof  Proof     // set when Kind == OutcomeAllowed
	Reason string    // set when Kind == OutcomeDenied
	Res    DeferInfo // set when Kind == OutcomeDeferred
}

// DeferInfo carries the resolution id and fallback decision for a
// deferred outcome.
type DeferInfo struct {
	ResolutionID uuid.UUID
	Fallback     string
}
