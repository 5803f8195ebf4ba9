// Package models holds the wire-stable data model shared by the policy
// engine, the mediator, the downstream tool manager, and the escalation
// protocol. Types here are plain structs with JSON tags; nothing in this
// package does I/O.
package models

import "time"

// Decision is the outcome of evaluating a tool call against policy.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionEscalate Decision = "escalate"
)

// ToolCallRequest is one agent-issued tool invocation. Immutable once
// constructed.
type ToolCallRequest struct {
	RequestID  string         `json:"requestId"`
	ServerName string         `json:"serverName"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ArgumentRole is a closed tagged variant describing how the policy engine
// should interpret a tool argument.
type ArgumentRole string

const (
	RoleReadPath    ArgumentRole = "read-path"
	RoleWritePath   ArgumentRole = "write-path"
	RoleDeletePath  ArgumentRole = "delete-path"
	RoleGithubOwner ArgumentRole = "github-owner"
	RoleNone        ArgumentRole = "none"
)

// IsPathRole reports whether the role denotes a filesystem path that must
// be normalized before rule matching.
func (r ArgumentRole) IsPathRole() bool {
	switch r {
	case RoleReadPath, RoleWritePath, RoleDeletePath:
		return true
	default:
		return false
	}
}

// RoleDefinition describes one entry in the closed role registry.
type RoleDefinition struct {
	Role                 ArgumentRole
	Description          string
	IsResourceIdentifier bool
}

// ToolAnnotation describes one downstream tool: which argument plays which
// role(s), and whether the tool has side effects.
type ToolAnnotation struct {
	ServerName  string                    `json:"serverName"`
	ToolName    string                    `json:"toolName"`
	Comment     string                    `json:"comment,omitempty"`
	SideEffects bool                      `json:"sideEffects"`
	Args        map[string][]ArgumentRole `json:"args"`
}

// PathConstraint is the `paths` clause of a CompiledRule's `if`.
type PathConstraint struct {
	Roles  []ArgumentRole `json:"roles,omitempty"`
	Within string         `json:"within"`
}

// RuleCondition is the conjunction of constraints in a CompiledRule's `if`.
// Nil/empty fields are wildcards.
type RuleCondition struct {
	Roles       []ArgumentRole   `json:"roles,omitempty"`
	Server      []string         `json:"server,omitempty"`
	Tool        []string         `json:"tool,omitempty"`
	SideEffects *bool            `json:"sideEffects,omitempty"`
	Paths       *PathConstraint  `json:"paths,omitempty"`
}

// RuleOutcome is the `then` clause of a CompiledRule.
type RuleOutcome struct {
	Decision Decision `json:"decision"`
}

// CompiledRule is one entry of a compiled policy file.
type CompiledRule struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Principle   string        `json:"principle,omitempty"`
	If          RuleCondition `json:"if"`
	Then        RuleOutcome   `json:"then"`
	Reason      string        `json:"reason,omitempty"`
}

// CompiledPolicyFile is the artifact produced by the offline compilation
// pipeline and consumed by the mediator at startup.
type CompiledPolicyFile struct {
	GeneratedAt      time.Time      `json:"generatedAt"`
	ConstitutionHash string         `json:"constitutionHash"`
	InputHash        string         `json:"inputHash"`
	Rules            []CompiledRule `json:"rules"`
	ProtectedPaths   []string       `json:"protectedPaths,omitempty"`
}

// ToolAnnotationsFile is tool-annotations.json.
type ToolAnnotationsFile struct {
	GeneratedAt time.Time                          `json:"generatedAt"`
	Servers     map[string]ServerAnnotationBundle   `json:"servers"`
}

// ServerAnnotationBundle groups annotations for one downstream server.
type ServerAnnotationBundle struct {
	InputHash string           `json:"inputHash"`
	Tools     []ToolAnnotation `json:"tools"`
}

// PolicyEvaluation is the result of evaluating one tool call.
type PolicyEvaluation struct {
	Decision Decision `json:"decision"`
	Rule     string   `json:"rule"`
	Reason   string   `json:"reason"`
}

// ToolCallResult is the outcome of forwarding an allowed call downstream.
type ToolCallResult struct {
	Status  string `json:"status"` // success | denied | error
	Content any    `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuditEntry is one append-only record of a mediated tool call.
type AuditEntry struct {
	Timestamp        time.Time         `json:"timestamp"`
	RequestID        string            `json:"requestId"`
	ServerName       string            `json:"serverName"`
	ToolName         string            `json:"toolName"`
	Arguments        map[string]any    `json:"arguments"`
	PolicyDecision   PolicyEvaluation  `json:"policyDecision"`
	EscalationResult string            `json:"escalationResult,omitempty"`
	Result           ToolCallResult    `json:"result"`
	DurationMs       int64             `json:"durationMs"`
}

// AuditFilter specifies query criteria over the audit log.
type AuditFilter struct {
	SessionID string     `json:"sessionId,omitempty"`
	ToolName  string     `json:"toolName,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// EscalationDecision is the human (or auto-approver) verdict.
type EscalationDecision string

const (
	EscalationApproved EscalationDecision = "approved"
	EscalationDenied   EscalationDecision = "denied"
	EscalationExpired  EscalationDecision = "expired"
	EscalationTimeout  EscalationDecision = "timeout"
)

// EscalationRequest is the contents of request-<id>.json.
type EscalationRequest struct {
	EscalationID string         `json:"escalationId"`
	SessionID    string         `json:"sessionId"`
	ToolName     string         `json:"toolName"`
	ServerName   string         `json:"serverName"`
	Arguments    map[string]any `json:"arguments"`
	Reason       string         `json:"reason"`
	Context      string         `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// EscalationResponse is the contents of response-<id>.json.
type EscalationResponse struct {
	Decision   EscalationDecision `json:"decision"`
	WidenRoots bool               `json:"widenRoots,omitempty"`
	RespondedAt time.Time         `json:"respondedAt"`
}

// PtySessionRegistration is one entry in the shared session registry.
type PtySessionRegistration struct {
	SessionID     string    `json:"sessionId"`
	EscalationDir string    `json:"escalationDir"`
	Label         string    `json:"label"`
	StartedAt     time.Time `json:"startedAt"`
	PID           int       `json:"pid"`
}

// KeyInjectionMode describes how the MITM proxy injects a real credential.
type KeyInjectionMode string

const (
	KeyInjectionHeader KeyInjectionMode = "header"
	KeyInjectionBearer KeyInjectionMode = "bearer"
)

// AllowedEndpoint is one (method, path) entry in a provider allowlist. Path
// segments equal to "*" match exactly one `[^/]+` path segment.
type AllowedEndpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// ProviderConfig configures the MITM egress proxy's handling of one
// upstream LLM provider host.
type ProviderConfig struct {
	Host             string            `json:"host"`
	AllowedEndpoints []AllowedEndpoint `json:"allowedEndpoints"`
	KeyInjection     KeyInjectionMode  `json:"keyInjection"`
	KeyHeaderName    string            `json:"keyHeaderName,omitempty"`
	FakeKeyPrefix    string            `json:"fakeKeyPrefix"`
	RealKey          string            `json:"-"`
	RewriteEndpoints []string          `json:"rewriteEndpoints,omitempty"`
}
