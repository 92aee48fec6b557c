// Package inbound fans messages arriving from connector sessions (chat
// platforms, CLI bridges, webhooks) into agent sessions by identity.
//
// The agent turn loop itself is an external collaborator, out of scope
// for this security core; Router's job stops at resolving an inbound
// message to a session and handing it to a Dispatcher. Every failure
// mode — unknown user, authentication rejection, rate limit, dispatch
// error — drops the message rather than guessing at a session to route
// it to.
package inbound

import (
	"context"
	"fmt"
	"sync"

	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/astrid-sh/astrid-guard/pkg/connector"
	"github.com/google/uuid"
)

// Message is one inbound payload from a connector, prior to identity
// resolution.
type Message struct {
	ConnectorID  string
	PlatformUser string
	Content      string
	BearerToken  string
	DataClass    string
}

// IdentityResolver maps a platform-scoped user identifier to the stable
// internal user id sessions are keyed by. An external collaborator: the
// identity/pairing store lives outside this core.
type IdentityResolver interface {
	Resolve(ctx context.Context, connectorID, platformUser string) (userID [8]byte, ok bool)
}

// Dispatcher hands a resolved message to the agent runtime for a given
// session. An external collaborator — the turn loop is out of scope here.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID uuid.UUID, userID [8]byte, content string) error
}

// SessionFinder resolves the session currently associated with an
// internal user id, creating one if none exists or the existing one has
// gone stale. An external collaborator (session lifecycle is owned by
// the agent runtime).
type SessionFinder interface {
	FindOrCreate(ctx context.Context, userID [8]byte) (uuid.UUID, error)
}

// Router fans connector messages into agent sessions. Every stage
// fails secure: an error or a missing mapping drops the message and is
// recorded in the audit log, never silently routed to the wrong session.
type Router struct {
	mu sync.Mutex

	gate       *connector.ZeroTrustGate
	auth       *connector.Authenticator
	identities IdentityResolver
	sessions   SessionFinder
	dispatch   Dispatcher
	audit      *auditlog.Log

	requireBearer bool
}

// Option configures a Router at construction.
type Option func(*Router)

// WithBearerAuth requires every inbound Message to carry a bearer token
// verified by auth before it is routed. Without this option the router
// trusts ConnectorID/PlatformUser as given by the caller, which is only
// appropriate for connectors that authenticate at a lower layer.
func WithBearerAuth(auth *connector.Authenticator) Option {
	return func(r *Router) {
		r.auth = auth
		r.requireBearer = true
	}
}

// New builds a Router. gate enforces per-connector trust policy (rate
// limits, trust level) ahead of identity resolution; audit records every
// drop and every successful hand-off.
func New(gate *connector.ZeroTrustGate, identities IdentityResolver, sessions SessionFinder, dispatch Dispatcher, audit *auditlog.Log, opts ...Option) *Router {
	r := &Router{
		gate:       gate,
		identities: identities,
		sessions:   sessions,
		dispatch:   dispatch,
		audit:      audit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes one inbound message. It never panics and never returns
// an error for a message that was deliberately dropped — callers that
// need drop visibility should inspect the audit log, which records one
// entry per terminal outcome (dispatch, or the specific drop reason).
//
// Processing order: trust gate → bearer auth (if configured) → identity
// resolution → session lookup/creation → dispatch. Each stage runs only
// if every stage before it succeeded; the first failure short-circuits
// the rest.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	decision := r.gate.CheckCall(ctx, msg.ConnectorID, msg.DataClass)
	if !decision.Allowed {
		r.recordDrop(ctx, msg, fmt.Sprintf("trust gate: %s", decision.Reason))
		return nil
	}

	if r.requireBearer {
		claims, err := r.auth.Verify(msg.BearerToken)
		if err != nil {
			r.recordDrop(ctx, msg, fmt.Sprintf("bearer auth rejected: %v", err))
			return nil
		}
		if claims.ConnectorID != msg.ConnectorID {
			r.recordDrop(ctx, msg, "bearer token connector id mismatch")
			return nil
		}
	}

	userID, ok := r.identities.Resolve(ctx, msg.ConnectorID, msg.PlatformUser)
	if !ok {
		// Fail-secure: unknown user, drop rather than guess a session.
		// The pairing flow that links an unknown platform user to an
		// internal identity is an external collaborator.
		r.recordDrop(ctx, msg, "unknown user, pairing required")
		return nil
	}

	sessionID, err := r.sessions.FindOrCreate(ctx, userID)
	if err != nil {
		r.recordDrop(ctx, msg, fmt.Sprintf("session lookup failed: %v", err))
		return nil
	}

	if err := r.dispatch.Dispatch(ctx, sessionID, userID, msg.Content); err != nil {
		r.recordDrop(ctx, msg, fmt.Sprintf("dispatch failed: %v", err))
		return nil
	}

	if r.audit != nil {
		_, _ = r.audit.Append(ctx, sessionID,
			auditlog.Action{Type: auditlog.ActionSessionStarted, Name: msg.ConnectorID},
			auditlog.Authorization{Type: auditlog.AuthUser, UserIDHex: hexUserID(userID)},
			auditlog.SuccessWith("connector message dispatched"),
		)
	}
	return nil
}

func (r *Router) recordDrop(ctx context.Context, msg Message, reason string) {
	if r.audit == nil {
		return
	}
	_, _ = r.audit.Append(ctx, uuid.Nil,
		auditlog.Action{Type: auditlog.ActionSecurityViolation, ViolationType: "inbound_routing", Details: reason, Name: msg.ConnectorID},
		auditlog.Authorization{Type: auditlog.AuthDenied, Reason: reason},
		auditlog.Failure(reason),
	)
}

func hexUserID(id [8]byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 16)
	for i, b := range id {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}
