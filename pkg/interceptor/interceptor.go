// Package interceptor implements the security interceptor: the single
// entry point every sensitive action passes through. It serialises
// policy, capability, budget, and approval checks into one atomic
// decision and writes one audit entry for the action on each allow, deny
// or defer outcome. An always-allow approval also records its grant as a
// separate entry first; errors from permission parsing, capability
// lookup or the approval manager are returned without an audit entry.
package interceptor

import (
	"context"
	"fmt"

	"github.com/astrid-sh/astrid-guard/pkg/action"
	apierror "github.com/astrid-sh/astrid-guard/pkg/apierror"
	"github.com/astrid-sh/astrid-guard/pkg/allowance"
	"github.com/astrid-sh/astrid-guard/pkg/approval"
	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/astrid-sh/astrid-guard/pkg/budget"
	"github.com/astrid-sh/astrid-guard/pkg/capability"
	"github.com/astrid-sh/astrid-guard/pkg/policyengine"
	"github.com/google/uuid"
)

// Interceptor combines policy, capability, budget, allowance, approval,
// and audit into the top-level gate described in §4.7.
type Interceptor struct {
	policy          *policyengine.Engine
	capabilities    *capability.Store
	sessionBudget   *budget.Tracker
	workspaceBudget *budget.WorkspaceTracker // nil when no workspace cap is configured
	allowances      *allowance.Cache
	approvalMgr     *approval.Manager
	audit           *auditlog.Log
	sessionID       uuid.UUID
	userID          [8]byte
}

// New builds a security interceptor for one agent session. workspaceBudget
// may be nil (unbounded workspace spend).
func New(
	policy *policyengine.Engine,
	capabilities *capability.Store,
	sessionBudget *budget.Tracker,
	workspaceBudget *budget.WorkspaceTracker,
	allowances *allowance.Cache,
	approvalMgr *approval.Manager,
	audit *auditlog.Log,
	sessionID uuid.UUID,
	userID [8]byte,
) *Interceptor {
	return &Interceptor{
		policy:          policy,
		capabilities:    capabilities,
		sessionBudget:   sessionBudget,
		workspaceBudget: workspaceBudget,
		allowances:      allowances,
		approvalMgr:     approvalMgr,
		audit:           audit,
		sessionID:       sessionID,
		userID:          userID,
	}
}

// Intercept runs the ordered five-step sequence from §4.7: policy,
// capability, budget, policy-allowed fast path, approval manager. Every
// allow, deny or defer branch writes one audit entry for the action.
func (in *Interceptor) Intercept(ctx context.Context, act action.Action, actionContext string, estimatedCost *float64) (*Result, error) {
	// Step 1: policy check — the hard boundary, never overridden below.
	verdict := in.policy.Check(act)
	if verdict.Kind == policyengine.VerdictBlocked {
		in.auditDenied(ctx, act, verdict.Reason)
		return nil, &apierror.GuardError{Kind: apierror.KindPolicyBlocked, Tool: act.ToolName(), Detail: verdict.Reason}
	}

	// Step 2: capability check. Tokens do not bypass budget.
	permission, err := capability.ParsePermission(act.RequestedPermission())
	if err != nil {
		return nil, fmt.Errorf("interceptor: %w", err)
	}
	tok, err := in.capabilities.FindFor(ctx, act.Resource(), permission)
	if err != nil {
		return nil, fmt.Errorf("interceptor: capability lookup: %w", err)
	}
	if tok != nil {
		warning, err := in.checkBudget(ctx, estimatedCost)
		if err != nil {
			in.auditDenied(ctx, act, err.Error())
			return nil, err
		}
		proof := Proof{Kind: ProofCapability, TokenID: tok.ID, TokenHash: tok.ContentHash().String()}
		auditID, err := in.auditAllowed(ctx, act, proof)
		if err != nil {
			return nil, err
		}
		return &Result{Proof: proof, AuditID: auditID, BudgetWarning: warning}, nil
	}

	// Step 3: budget check for every remaining path.
	warning, err := in.checkBudget(ctx, estimatedCost)
	if err != nil {
		in.auditDenied(ctx, act, err.Error())
		return nil, err
	}

	// Step 4: policy-allowed fast path.
	if verdict.Kind == policyengine.VerdictAllowed {
		proof := Proof{Kind: ProofPolicyAllowed}
		auditID, err := in.auditAllowed(ctx, act, proof)
		if err != nil {
			return nil, err
		}
		return &Result{Proof: proof, AuditID: auditID, BudgetWarning: warning}, nil
	}

	// Step 5: requires approval — hand off to the approval manager.
	outcome, err := in.approvalMgr.CheckApproval(ctx, act, actionContext)
	if err != nil {
		return nil, fmt.Errorf("interceptor: approval manager: %w", err)
	}
	return in.resolveApprovalOutcome(ctx, act, outcome, warning)
}

func (in *Interceptor) resolveApprovalOutcome(ctx context.Context, act action.Action, outcome approval.Outcome, warning *budget.Warning) (*Result, error) {
	switch outcome.Kind {
	case approval.OutcomeDenied:
		in.auditDenied(ctx, act, outcome.Reason)
		return nil, &apierror.GuardError{Kind: apierror.KindApprovalDenied, Detail: outcome.Reason}

	case approval.OutcomeDeferred:
		reason := fmt.Sprintf("action deferred (resolution: %s, fallback: %s)", outcome.Res.ResolutionID, outcome.Res.Fallback)
		in.auditDeferred(ctx, act, reason)
		return nil, &apierror.GuardError{Kind: apierror.KindApprovalDeferred, Detail: reason, Retryable: true}

	case approval.OutcomeAllowed:
		proof, err := in.mapApprovalProof(ctx, act, outcome.Proof)
		if err != nil {
			return nil, err
		}
		auditID, err := in.auditAllowed(ctx, act, proof)
		if err != nil {
			return nil, err
		}
		return &Result{Proof: proof, AuditID: auditID, BudgetWarning: warning}, nil

	default:
		return nil, fmt.Errorf("interceptor: unrecognised approval outcome %q", outcome.Kind)
	}
}

func (in *Interceptor) mapApprovalProof(ctx context.Context, act action.Action, p approval.Proof) (Proof, error) {
	switch p.Kind {
	case approval.ProofAllowance:
		return Proof{Kind: ProofAllowance, AllowanceID: p.AllowanceID}, nil

	case approval.ProofSessionApproval:
		a := in.allowances.CreateSession(act.Class(), act.Resource(), nil)
		return Proof{Kind: ProofAllowance, AllowanceID: a.ID}, nil

	case approval.ProofWorkspaceApproval:
		a := in.allowances.CreateWorkspace(act.Class(), act.Resource(), nil)
		return Proof{Kind: ProofAllowance, AllowanceID: a.ID}, nil

	case approval.ProofAlwaysAllow:
		return in.handleAlwaysAllow(ctx, act)

	case approval.ProofOneTimeApproval:
		return Proof{Kind: ProofUserApproval, ApprovalAuditID: uuid.New()}, nil

	default:
		return Proof{}, fmt.Errorf("interceptor: unrecognised approval proof %q", p.Kind)
	}
}

// handleAlwaysAllow issues a persistent capability token for the action's
// resource and permission, first recording the approval grant itself so
// the new token's ApprovalAuditID points at a real audit entry. If token
// issuance fails, it falls back to a one-time approval rather than
// escalating the error (§4.6).
func (in *Interceptor) handleAlwaysAllow(ctx context.Context, act action.Action) (Proof, error) {
	grantAction := auditlog.Action{Type: auditlog.ActionApprovalGranted, ActionType: act.ToolName(), Scope: "always"}
	grantAuth := auditlog.Authorization{Type: auditlog.AuthUserApproval, UserIDHex: hexUserID(in.userID)}
	approvalAuditID, err := in.audit.Append(ctx, in.sessionID, grantAction, grantAuth, auditlog.Success())
	if err != nil {
		return Proof{Kind: ProofUserApproval, ApprovalAuditID: uuid.New()}, nil
	}

	permission, err := capability.ParsePermission(act.RequestedPermission())
	if err != nil {
		return Proof{Kind: ProofUserApproval, ApprovalAuditID: approvalAuditID}, nil
	}

	tok, err := in.capabilities.Issue(ctx, capability.ResourcePattern(act.Resource()), []capability.Permission{permission}, capability.ScopePersistent, nil, false, approvalAuditID, in.userID)
	if err != nil {
		// Fall back to a one-time approval rather than propagating the error.
		return Proof{Kind: ProofUserApproval, ApprovalAuditID: approvalAuditID}, nil
	}

	return Proof{Kind: ProofUserApproval, ApprovalAuditID: approvalAuditID, TokenID: tok.ID}, nil
}

// checkBudget reserves cost against the workspace tracker (if configured)
// then the session tracker, workspace binding first per §4.4. A nil cost
// means the action carries no estimated spend and always succeeds.
func (in *Interceptor) checkBudget(ctx context.Context, cost *float64) (*budget.Warning, error) {
	if cost == nil {
		return nil, nil
	}

	var warning *budget.Warning
	if in.workspaceBudget != nil {
		w, err := in.workspaceBudget.CheckAndReserve(ctx, *cost)
		if err != nil {
			return nil, &apierror.GuardError{Kind: apierror.KindBudgetExceeded, Detail: err.Error()}
		}
		if w != nil {
			warning = w
		}
	}

	w, err := in.sessionBudget.CheckAndReserve(*cost)
	if err != nil {
		return nil, &apierror.GuardError{Kind: apierror.KindBudgetExceeded, Detail: err.Error()}
	}
	if w != nil {
		warning = w
	}
	return warning, nil
}

func (in *Interceptor) auditAllowed(ctx context.Context, act action.Action, proof Proof) (uuid.UUID, error) {
	return in.audit.Append(ctx, in.sessionID, actionToAudit(act), proofToAuth(proof, in.userID), auditlog.Success())
}

func (in *Interceptor) auditDenied(ctx context.Context, act action.Action, reason string) {
	_, _ = in.audit.Append(ctx, in.sessionID, actionToAudit(act), auditlog.Authorization{Type: auditlog.AuthDenied, Reason: reason}, auditlog.Failure(reason))
}

func (in *Interceptor) auditDeferred(ctx context.Context, act action.Action, reason string) {
	_, _ = in.audit.Append(ctx, in.sessionID, actionToAudit(act), auditlog.Authorization{Type: auditlog.AuthDenied, Reason: reason}, auditlog.Failure("deferred: "+reason))
}

func hexUserID(id [8]byte) string { return fmt.Sprintf("%x", id) }
