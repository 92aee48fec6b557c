// Package observability provides attribute helpers for this core's
// semantic conventions, attached to spans and metrics raised around the
// interceptor, capability store, audit log, and plugin host.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for the security core.
var (
	// Interceptor attributes
	AttrSessionID    = attribute.Key("astridguard.session.id")
	AttrActionType   = attribute.Key("astridguard.action.type")
	AttrActionResult = attribute.Key("astridguard.action.result") // allow | deny | require_approval
	AttrDenyReason   = attribute.Key("astridguard.action.deny_reason")

	// Capability attributes
	AttrCapabilityTokenID    = attribute.Key("astridguard.capability.token_id")
	AttrCapabilityResource   = attribute.Key("astridguard.capability.resource")
	AttrCapabilityPermission = attribute.Key("astridguard.capability.permission")
	AttrCapabilityScope      = attribute.Key("astridguard.capability.scope")

	// Audit chain attributes
	AttrAuditEntryID  = attribute.Key("astridguard.audit.entry_id")
	AttrAuditSeq      = attribute.Key("astridguard.audit.seq")
	AttrAuditVerified = attribute.Key("astridguard.audit.verified")

	// Plugin host attributes
	AttrPluginID       = attribute.Key("astridguard.plugin.id")
	AttrPluginHostCall = attribute.Key("astridguard.plugin.host_call")

	// Budget attributes
	AttrBudgetScope    = attribute.Key("astridguard.budget.scope") // session | workspace
	AttrBudgetSpendUSD = attribute.Key("astridguard.budget.spend_usd")

	// Approval attributes
	AttrApprovalID       = attribute.Key("astridguard.approval.id")
	AttrApprovalOutcome  = attribute.Key("astridguard.approval.outcome")
	AttrApprovalDeferred = attribute.Key("astridguard.approval.deferred")
)

// InterceptOperation creates attributes for one interceptor decision.
func InterceptOperation(sessionID, actionType, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrActionType.String(actionType),
		AttrActionResult.String(result),
	}
}

// CapabilityOperation creates attributes for capability issuance/lookup.
func CapabilityOperation(tokenID, resource, permission, scope string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCapabilityTokenID.String(tokenID),
		AttrCapabilityResource.String(resource),
		AttrCapabilityPermission.String(permission),
		AttrCapabilityScope.String(scope),
	}
}

// AuditOperation creates attributes for an audit-chain append or verify.
func AuditOperation(entryID string, seq uint64, verified bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAuditEntryID.String(entryID),
		AttrAuditSeq.Int64(int64(seq)),
		AttrAuditVerified.Bool(verified),
	}
}

// PluginHostOperation creates attributes for a gated plugin host call.
func PluginHostOperation(pluginID, hostCall string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPluginID.String(pluginID),
		AttrPluginHostCall.String(hostCall),
	}
}

// BudgetOperation creates attributes for a budget reservation.
func BudgetOperation(scope string, spendUSD float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBudgetScope.String(scope),
		AttrBudgetSpendUSD.Float64(spendUSD),
	}
}

// ApprovalOperation creates attributes for an approval-manager decision.
func ApprovalOperation(approvalID, outcome string, deferred bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrApprovalID.String(approvalID),
		AttrApprovalOutcome.String(outcome),
		AttrApprovalDeferred.Bool(deferred),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
