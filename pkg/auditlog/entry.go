// Package auditlog implements the append-only, hash-chained, signed audit
// trail: every security decision the interceptor makes is recorded as an
// AuditEntry whose previous_hash links it to its predecessor.
package auditlog

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/guardcrypto"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// ActionType tags the kind of security-relevant event an Entry describes.
type ActionType string

const (
	ActionMcpToolCall        ActionType = "mcp_tool_call"
	ActionCapsuleToolCall     ActionType = "capsule_tool_call"
	ActionMcpResourceRead     ActionType = "mcp_resource_read"
	ActionMcpPromptGet        ActionType = "mcp_prompt_get"
	ActionMcpElicitation      ActionType = "mcp_elicitation"
	ActionMcpUrlElicitation   ActionType = "mcp_url_elicitation"
	ActionMcpSampling         ActionType = "mcp_sampling"
	ActionFileRead            ActionType = "file_read"
	ActionFileWrite           ActionType = "file_write"
	ActionFileDelete          ActionType = "file_delete"
	ActionCapabilityCreated   ActionType = "capability_created"
	ActionCapabilityRevoked   ActionType = "capability_revoked"
	ActionApprovalRequested   ActionType = "approval_requested"
	ActionApprovalGranted     ActionType = "approval_granted"
	ActionApprovalDenied      ActionType = "approval_denied"
	ActionSessionStarted      ActionType = "session_started"
	ActionSessionEnded        ActionType = "session_ended"
	ActionContextSummarized   ActionType = "context_summarized"
	ActionLlmRequest          ActionType = "llm_request"
	ActionServerStarted       ActionType = "server_started"
	ActionServerStopped       ActionType = "server_stopped"
	ActionElicitationSent     ActionType = "elicitation_sent"
	ActionElicitationReceived ActionType = "elicitation_received"
	ActionSecurityViolation   ActionType = "security_violation"
	ActionSubAgentSpawned     ActionType = "sub_agent_spawned"
	ActionConfigReloaded      ActionType = "config_reloaded"
	ActionExecuteCommand      ActionType = "execute_command"
	ActionNetworkRequest      ActionType = "network_request"
	ActionConnectorRegistered ActionType = "connector_registered"
)

// Action is a tagged record of what happened. It is a flat struct rather
// than a sum type: every variant populates only the fields it needs, and
// the "type" field discriminates. This keeps JSON canonicalization trivial
// (omitempty drops the unused fields) while still round-tripping exactly.
type Action struct {
	Type ActionType `json:"type"`

	Server          string   `json:"server,omitempty"`
	Tool            string   `json:"tool,omitempty"`
	ArgsHash        string   `json:"args_hash,omitempty"`
	CapsuleID       string   `json:"capsule_id,omitempty"`
	URI             string   `json:"uri,omitempty"`
	Name            string   `json:"name,omitempty"`
	RequestID       string   `json:"request_id,omitempty"`
	Schema          string   `json:"schema,omitempty"`
	InteractionType string   `json:"interaction_type,omitempty"`
	Model           string   `json:"model,omitempty"`
	PromptTokens    int      `json:"prompt_tokens,omitempty"`
	InputTokens     int      `json:"input_tokens,omitempty"`
	OutputTokens    int      `json:"output_tokens,omitempty"`
	Path            string   `json:"path,omitempty"`
	ContentHash     string   `json:"content_hash,omitempty"`
	TokenID         string   `json:"token_id,omitempty"`
	Resource        string   `json:"resource,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	ActionType      string   `json:"action_type,omitempty"`
	RiskLevel       string   `json:"risk_level,omitempty"`
	UserIDHex       string   `json:"user_id,omitempty"`
	Frontend        string   `json:"frontend,omitempty"`
	DurationSecs    float64  `json:"duration_secs,omitempty"`
	EvictedCount    int      `json:"evicted_count,omitempty"`
	TokensFreed     int      `json:"tokens_freed,omitempty"`
	Transport       string   `json:"transport,omitempty"`
	BinaryHash      string   `json:"binary_hash,omitempty"`
	ElicitationType string   `json:"elicitation_type,omitempty"`
	ViolationType   string   `json:"violation_type,omitempty"`
	Details         string   `json:"details,omitempty"`
	ParentSessionID string   `json:"parent_session_id,omitempty"`
	ChildSessionID  string   `json:"child_session_id,omitempty"`
	Description     string   `json:"description,omitempty"`
}

// Describe renders a short human-readable summary, mirroring the
// reference implementation's per-variant description() formatter.
func (a Action) Describe() string {
	switch a.Type {
	case ActionMcpToolCall:
		return fmt.Sprintf("called tool %s on MCP server %s", a.Tool, a.Server)
	case ActionCapsuleToolCall:
		return fmt.Sprintf("called tool %s on capsule %s", a.Tool, a.CapsuleID)
	case ActionFileRead:
		return fmt.Sprintf("read file %s", a.Path)
	case ActionFileWrite:
		return fmt.Sprintf("wrote file %s", a.Path)
	case ActionFileDelete:
		return fmt.Sprintf("deleted file %s", a.Path)
	case ActionCapabilityCreated:
		return fmt.Sprintf("created capability %s over %s", a.TokenID, a.Resource)
	case ActionCapabilityRevoked:
		return fmt.Sprintf("revoked capability %s: %s", a.TokenID, a.Reason)
	case ActionApprovalRequested:
		return fmt.Sprintf("requested approval for %s (%s)", a.ActionType, a.RiskLevel)
	case ActionApprovalGranted:
		return fmt.Sprintf("approved %s scope=%s", a.ActionType, a.Scope)
	case ActionApprovalDenied:
		return fmt.Sprintf("denied %s: %s", a.ActionType, a.Reason)
	case ActionSecurityViolation:
		return fmt.Sprintf("security violation (%s): %s", a.ViolationType, a.Details)
	default:
		return string(a.Type)
	}
}

// AuthorizationType tags why an action was permitted.
type AuthorizationType string

const (
	AuthUser          AuthorizationType = "user"
	AuthCapability     AuthorizationType = "capability"
	AuthUserApproval   AuthorizationType = "user_approval"
	AuthNotRequired    AuthorizationType = "not_required"
	AuthSystem         AuthorizationType = "system"
	AuthDenied         AuthorizationType = "denied"
)

// Authorization is the tagged proof attached to an audited decision.
type Authorization struct {
	Type AuthorizationType `json:"type"`

	UserIDHex       string `json:"user_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	TokenID         string `json:"token_id,omitempty"`
	TokenHash       string `json:"token_hash,omitempty"`
	ApprovalEntryID string `json:"approval_entry_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Outcome records whether the audited action succeeded.
type Outcome struct {
	Status  string `json:"status"` // "success" | "failure"
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success builds a bare success outcome.
func Success() Outcome { return Outcome{Status: "success"} }

// SuccessWith builds a success outcome carrying a detail string.
func SuccessWith(details string) Outcome { return Outcome{Status: "success", Details: details} }

// Failure builds a failure outcome.
func Failure(err string) Outcome { return Outcome{Status: "failure", Error: err} }

// IsSuccess reports whether the outcome is a success.
func (o Outcome) IsSuccess() bool { return o.Status == "success" }

// signingVersion byte reserved for future wire-format changes; the current
// layout does not prefix it (see Entry.SigningData), but it is kept here
// for documentation next to capability.signingVersion.
const signingVersion = 0x01

// Entry is one link of the hash-chained audit trail.
type Entry struct {
	ID            uuid.UUID
	Timestamp     time.Time
	SessionID     uuid.UUID
	Action        Action
	Authorization Authorization
	Outcome       Outcome
	PreviousHash  guardcrypto.ContentHash
	RuntimeKey    ed25519.PublicKey
	Signature     []byte
}

// canonicalJSON marshals v and runs it through RFC 8785 JSON
// Canonicalization so that two entries built from equivalent data — in
// particular one deserialised-and-reserialised — always hash identically,
// regardless of Go struct field order or map iteration order.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("auditlog: canonicalize: %w", err)
	}
	return canon, nil
}

// SigningData builds the exact byte sequence that is signed and hashed:
// raw entry id, little-endian unix timestamp, raw session id, canonical
// JSON of action, canonical JSON of authorization, a single
// success/failure byte, the raw previous hash, and the raw runtime key.
func (e *Entry) SigningData() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(e.ID[:])

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(e.Timestamp.Unix()))
	buf.Write(tsBuf[:])

	buf.Write(e.SessionID[:])

	actionJSON, err := canonicalJSON(e.Action)
	if err != nil {
		return nil, err
	}
	buf.Write(actionJSON)

	authJSON, err := canonicalJSON(e.Authorization)
	if err != nil {
		return nil, err
	}
	buf.Write(authJSON)

	if e.Outcome.IsSuccess() {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	buf.Write(e.PreviousHash[:])
	buf.Write(e.RuntimeKey)

	return buf.Bytes(), nil
}

// ContentHash hashes the entry's signing payload.
func (e *Entry) ContentHash() (guardcrypto.ContentHash, error) {
	data, err := e.SigningData()
	if err != nil {
		return guardcrypto.ContentHash{}, err
	}
	return guardcrypto.HashBytes(data), nil
}

// Sign signs the entry's signing payload, recording the signer's public
// key as the entry's runtime key.
func (e *Entry) Sign(signer guardcrypto.Signer) error {
	e.RuntimeKey = signer.PublicKey()
	data, err := e.SigningData()
	if err != nil {
		return err
	}
	e.Signature = signer.Sign(data)
	return nil
}

// VerifySignature recomputes the signing payload and checks it against
// the stored signature under the entry's recorded runtime key.
func (e *Entry) VerifySignature() (bool, error) {
	data, err := e.SigningData()
	if err != nil {
		return false, err
	}
	return guardcrypto.Verify(e.RuntimeKey, data, e.Signature), nil
}

// Follows reports whether e chains directly after previous.
func (e *Entry) Follows(previous *Entry) (bool, error) {
	prevHash, err := previous.ContentHash()
	if err != nil {
		return false, err
	}
	return e.PreviousHash == prevHash, nil
}
