package interceptor

import (
	"github.com/astrid-sh/astrid-guard/pkg/action"
	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
)

// actionToAudit maps a SensitiveAction onto the auditlog's flat Action
// record, matching the reference implementation's per-variant field
// projection.
func actionToAudit(act action.Action) auditlog.Action {
	switch act.Type {
	case action.TypeFileRead:
		return auditlog.Action{Type: auditlog.ActionFileRead, Path: act.Path}
	case action.TypeFileWrite:
		return auditlog.Action{Type: auditlog.ActionFileWrite, Path: act.Path}
	case action.TypeFileDelete:
		return auditlog.Action{Type: auditlog.ActionFileDelete, Path: act.Path}
	case action.TypeMcpToolCall:
		return auditlog.Action{Type: auditlog.ActionMcpToolCall, Server: act.Server, Tool: act.Tool}
	case action.TypeCapsuleExecution:
		return auditlog.Action{Type: auditlog.ActionCapsuleToolCall, CapsuleID: act.CapsuleID, Tool: act.Capability}
	case action.TypeCapsuleHttpRequest:
		return auditlog.Action{Type: auditlog.ActionCapsuleToolCall, CapsuleID: act.CapsuleID, Description: act.Method + " " + act.URL}
	case action.TypeCapsuleFileAccess:
		return auditlog.Action{Type: auditlog.ActionCapsuleToolCall, CapsuleID: act.CapsuleID, Path: act.Path}
	case action.TypeExecuteCommand:
		return auditlog.Action{Type: auditlog.ActionExecuteCommand, ActionType: act.Command, Description: joinArgs(act.Args)}
	case action.TypeNetworkRequest:
		return auditlog.Action{Type: auditlog.ActionNetworkRequest, Description: act.URL}
	case action.TypeConnectorRegister:
		return auditlog.Action{Type: auditlog.ActionConnectorRegistered, Frontend: act.ConnectorPlatform, Name: act.ConnectorName}
	default:
		return auditlog.Action{Type: auditlog.ActionSecurityViolation, ActionType: string(act.Type)}
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// proofToAuth maps an InterceptProof onto the auditlog's AuthorizationProof
// variant.
func proofToAuth(p Proof, userID [8]byte) auditlog.Authorization {
	switch p.Kind {
	case ProofCapability:
		return auditlog.Authorization{Type: auditlog.AuthCapability, TokenID: p.TokenID.String(), TokenHash: p.TokenHash}
	case ProofAllowance:
		return auditlog.Authorization{Type: auditlog.AuthNotRequired, Reason: "matched allowance " + p.AllowanceID.String()}
	case ProofUserApproval:
		return auditlog.Authorization{Type: auditlog.AuthUserApproval, UserIDHex: hexUserID(userID), ApprovalEntryID: p.ApprovalAuditID.String()}
	case ProofPolicyAllowed:
		return auditlog.Authorization{Type: auditlog.AuthNotRequired, Reason: "policy allowed"}
	default:
		return auditlog.Authorization{Type: auditlog.AuthSystem, Reason: "unrecognised proof"}
	}
}
