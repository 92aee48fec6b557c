package interceptor

import (
	"github.com/astrid-sh/astrid-guard/pkg/budget"
	"github.com/google/uuid"
)

// ProofKind discriminates InterceptProof's variant.
type ProofKind string

const (
	ProofPolicyAllowed ProofKind = "policy_allowed"
	ProofCapability    ProofKind = "capability"
	ProofAllowance     ProofKind = "allowance"
	ProofUserApproval  ProofKind = "user_approval"
)

// Proof is the authorisation evidence attached to an InterceptResult, and
// the value recorded (in mapped form) on the audit entry.
type Proof struct {
	Kind ProofKind

	TokenID         uuid.UUID // ProofCapability
	TokenHash       string    // ProofCapability
	AllowanceID     uuid.UUID // ProofAllowance
	ApprovalAuditID uuid.UUID // ProofUserApproval
}

// Result is the successful outcome of Intercept.
type Result struct {
	Proof         Proof
	AuditID       uuid.UUID
	BudgetWarning *budget.Warning
}
