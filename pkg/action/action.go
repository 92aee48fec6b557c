// Package action defines the SensitiveAction type passed to the policy
// engine, allowance cache, and security interceptor. It is deliberately
// dependency-free so every security-core package can depend on it without
// risking an import cycle.
package action

// Type discriminates the kind of sensitive action being attempted.
type Type string

const (
	TypeExecuteCommand     Type = "execute_command"
	TypeFileRead           Type = "file_read"
	TypeFileWrite          Type = "file_write"
	TypeFileDelete         Type = "file_delete"
	TypeMcpToolCall        Type = "mcp_tool_call"
	TypeCapsuleExecution   Type = "capsule_execution"
	TypeCapsuleHttpRequest Type = "capsule_http_request"
	TypeCapsuleFileAccess  Type = "capsule_file_access"
	TypeNetworkRequest     Type = "network_request"
	TypeConnectorRegister  Type = "connector_register"
)

// Action is a flat, tagged-variant representation of SensitiveAction: one
// struct carries every variant's fields, with the Type field selecting
// which are meaningful. This mirrors the flat-struct approach used for
// auditlog.Action and capability.Token's field layout.
type Action struct {
	Type Type

	// ExecuteCommand
	Command string
	Args    []string

	// FileRead / FileWrite / FileDelete / CapsuleFileAccess
	Path string
	Mode string // CapsuleFileAccess only: "read" | "write"

	// McpToolCall
	Server string
	Tool   string

	// CapsuleExecution / CapsuleHttpRequest / CapsuleFileAccess
	CapsuleID  string
	Capability string

	// CapsuleHttpRequest / NetworkRequest
	URL    string
	Method string

	// ConnectorRegister
	ConnectorName     string
	ConnectorPlatform string
	ConnectorProfile  string
}

// ToolName names the operation for PolicyBlocked{tool} reporting.
func (a Action) ToolName() string {
	switch a.Type {
	case TypeExecuteCommand:
		return "execute_command"
	case TypeMcpToolCall:
		return a.Server + ":" + a.Tool
	default:
		return string(a.Type)
	}
}

// Resource renders the action's target as a capability-pattern-matchable
// resource string, in the same scheme capability.ResourcePattern expects
// (e.g. "mcp://filesystem:read_file", "file:///home/user/file.txt").
func (a Action) Resource() string {
	switch a.Type {
	case TypeFileRead, TypeFileWrite, TypeFileDelete:
		return "file://" + a.Path
	case TypeMcpToolCall:
		return "mcp://" + a.Server + ":" + a.Tool
	case TypeCapsuleExecution:
		return "capsule://" + a.CapsuleID + ":" + a.Capability
	case TypeCapsuleHttpRequest:
		return "capsule-http://" + a.CapsuleID + ":" + a.URL
	case TypeCapsuleFileAccess:
		return "capsule-file://" + a.CapsuleID + ":" + a.Path
	case TypeExecuteCommand:
		return "exec://" + a.Command
	case TypeNetworkRequest:
		return "net://" + a.URL
	case TypeConnectorRegister:
		return "connector://" + a.ConnectorName + ":" + a.ConnectorPlatform
	default:
		return string(a.Type)
	}
}

// Class buckets the action for allowance and budget accounting — coarser
// than Resource, which is what "remember this decision for any file read"
// needs to key on.
func (a Action) Class() string {
	return string(a.Type)
}

// RequestedPermission is the capability.Permission implied by this action,
// used when the interceptor derives permissions for a freshly-issued
// AlwaysAllow capability token.
func (a Action) RequestedPermission() string {
	switch a.Type {
	case TypeFileRead, TypeCapsuleFileAccess:
		if a.Mode == "write" {
			return "write"
		}
		return "read"
	case TypeFileWrite, TypeFileDelete:
		return "write"
	case TypeExecuteCommand, TypeCapsuleExecution:
		return "execute"
	case TypeMcpToolCall:
		return "invoke"
	case TypeConnectorRegister:
		return "admin"
	default:
		return "invoke"
	}
}
