// Package mediator implements the aggregated proxy server: it fronts
// every downstream tool server as one tool server, running each call
// through the policy engine, the auto-approver, and the escalation
// protocol before forwarding to the downstream manager and recording the
// outcome in the audit log.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ironcurtain/ironcurtain/internal/audit"
	"github.com/ironcurtain/ironcurtain/internal/autoapprove"
	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/internal/escalation"
	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/internal/policy"
	"github.com/ironcurtain/ironcurtain/internal/roles"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// ErrUnknownTool names the unknown-tool failure. Call does not return it:
// a tool absent from both the downstream manager and the policy's
// annotations is denied by the structural-unknown-tool rule instead.
var ErrUnknownTool = errors.New("mediator: unknown tool")

// Config bounds one Mediator's behavior.
type Config struct {
	SessionID            string
	SandboxDir           string
	HomeDir              string
	EscalationTimeout    time.Duration
	DownstreamCallBudget time.Duration
}

// Mediator wires roles -> policy -> autoapprove -> escalation ->
// downstream -> audit for every tool call. One
// Mediator belongs to exactly one session.
type Mediator struct {
	cfg         Config
	policy      *policy.Policy
	downstream  *downstream.Manager
	auditLog    *audit.Log
	auditIndex  *audit.Index
	requester   *escalation.Requester
	autoApprove *autoapprove.Approver
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	// toolIndex maps the agent-visible tool name (post disambiguation) to
	// (serverName, toolName).
	toolIndex map[string]resolvedTool
}

type resolvedTool struct {
	serverName string
	toolName   string
}

// Deps bundles the optional ambient dependencies a Mediator accepts:
// nil metrics/tracer mean "don't instrument", since both are process-wide
// singletons the caller owns, not something each Mediator should create
// for itself (one mediator per session, metrics registered once).
type Deps struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// New builds a Mediator. pol, ds, and auditLog are all loaded/opened by
// the caller; compiled policy and annotations are loaded once and are
// immutable for the mediator's lifetime.
func New(cfg Config, pol *policy.Policy, ds *downstream.Manager, auditLog *audit.Log, auditIndex *audit.Index, approver *autoapprove.Approver, logger *slog.Logger, deps ...Deps) *Mediator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = 5 * time.Minute
	}
	if cfg.DownstreamCallBudget <= 0 {
		cfg.DownstreamCallBudget = 60 * time.Second
	}
	var dep Deps
	if len(deps) > 0 {
		dep = deps[0]
	}
	tracer := dep.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "ironcurtain-mediator"})
	}
	return &Mediator{
		cfg:         cfg,
		policy:      pol,
		downstream:  ds,
		auditLog:    auditLog,
		auditIndex:  auditIndex,
		autoApprove: approver,
		logger:      logger.With("component", "mediator", "session", cfg.SessionID),
		metrics:     dep.Metrics,
		tracer:      tracer,
		toolIndex:   make(map[string]resolvedTool),
	}
}

// SetRequester attaches the escalation requester once the session's
// escalation directory exists.
func (m *Mediator) SetRequester(r *escalation.Requester) { m.requester = r }

// ListTools returns the aggregated tool list: the union of
// all downstream tools, name-collisions disambiguated by prefixing with
// the source server name.
func (m *Mediator) ListTools() []AggregatedTool {
	all := m.downstream.ListTools()

	nameCount := make(map[string]int)
	for _, tools := range all {
		for _, t := range tools {
			nameCount[t.Name]++
		}
	}

	var out []AggregatedTool
	for serverName, tools := range all {
		for _, t := range tools {
			visibleName := t.Name
			if nameCount[t.Name] > 1 {
				visibleName = serverName + "." + t.Name
			}
			m.toolIndex[visibleName] = resolvedTool{serverName: serverName, toolName: t.Name}
			out = append(out, AggregatedTool{
				Name:        visibleName,
				ServerName:  serverName,
				ToolName:    t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return out
}

// AggregatedTool is one entry of tools/list's result.
type AggregatedTool struct {
	Name        string
	ServerName  string
	ToolName    string
	Description string
	InputSchema []byte
}

// CallInput is one inbound tools/call.
type CallInput struct {
	ToolName    string
	Arguments   map[string]any
	UserMessage string // most recent human input, for the auto-approver
}

// CallOutput is returned to the agent after mediation completes.
type CallOutput struct {
	RequestID string
	Decision  models.PolicyEvaluation
	Result    models.ToolCallResult
}

// Call runs one tool call through the full mediation pipeline.
func (m *Mediator) Call(ctx context.Context, in CallInput) (CallOutput, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := m.tracer.TraceToolExecution(ctx, in.ToolName)
	defer span.End()

	resolved, known := m.resolve(in.ToolName)
	ann, annKnown := models.ToolAnnotation{}, false
	if known {
		ann, annKnown = m.policy.Lookup(resolved.serverName, resolved.toolName)
	}
	knownTool := known && annKnown

	argValues := m.normalizeArgs(ann, in.Arguments)

	evalIn := policy.EvaluateInput{
		ServerName: resolved.serverName,
		ToolName:   resolved.toolName,
		KnownTool:  knownTool,
		Annotation: ann,
		ArgValues:  argValues,
		SandboxDir: m.cfg.SandboxDir,
	}
	decision := m.policy.Evaluate(evalIn)
	escalationNote := ""

	if decision.Decision == models.DecisionEscalate {
		decision, escalationNote = m.resolveEscalation(ctx, resolved, in, decision)
	}

	defer func() {
		m.metrics.ObserveCall(string(decision.Decision), time.Since(start))
	}()
	m.metrics.RecordDecision(string(decision.Decision))

	var result models.ToolCallResult
	switch decision.Decision {
	case models.DecisionDeny:
		result = models.ToolCallResult{Status: "denied", Error: decision.Reason}
	case models.DecisionAllow:
		result = m.forward(ctx, resolved, in.Arguments)
	default:
		result = models.ToolCallResult{Status: "error", Error: "mediator: unresolved decision " + string(decision.Decision)}
	}

	entry := models.AuditEntry{
		Timestamp:        time.Now(),
		RequestID:        requestID,
		ServerName:       resolved.serverName,
		ToolName:         resolved.toolName,
		Arguments:        redactedArgs(in.Arguments),
		PolicyDecision:   decision,
		EscalationResult: escalationNote,
		Result:           result,
		DurationMs:       time.Since(start).Milliseconds(),
	}
	if err := m.recordAudit(ctx, entry); err != nil {
		// An audit write failure cancels the tool call outright: nothing
		// may fail open except in the direction of safety.
		return CallOutput{}, fmt.Errorf("mediator: audit write failed, call cancelled: %w", err)
	}

	return CallOutput{RequestID: requestID, Decision: decision, Result: result}, nil
}

func (m *Mediator) resolve(toolName string) (resolvedTool, bool) {
	if r, ok := m.toolIndex[toolName]; ok {
		return r, true
	}
	if serverName, tool, ok := strings.Cut(toolName, "."); ok {
		return resolvedTool{serverName: serverName, toolName: tool}, true
	}
	return resolvedTool{}, false
}

func (m *Mediator) normalizeArgs(ann models.ToolAnnotation, args map[string]any) []policy.ArgRoleValue {
	var out []policy.ArgRoleValue
	for argName, argRoles := range ann.Args {
		raw, present := args[argName]
		if !present {
			continue
		}
		for _, role := range argRoles {
			if role == models.RoleNone {
				out = append(out, policy.ArgRoleValue{Arg: argName, Role: role, RawValue: raw})
				continue
			}
			str, ok := raw.(string)
			if !ok {
				out = append(out, policy.ArgRoleValue{Arg: argName, Role: role, RawValue: raw, NormalizeErr: fmt.Errorf("mediator: argument %q is not a string", argName)})
				continue
			}
			normalized, err := roles.Normalize(role, m.cfg.HomeDir, str)
			out = append(out, policy.ArgRoleValue{Arg: argName, Role: role, RawValue: raw, NormalizedValue: normalized, NormalizeErr: err})
		}
	}
	return out
}

func (m *Mediator) resolveEscalation(ctx context.Context, resolved resolvedTool, in CallInput, decision models.PolicyEvaluation) (models.PolicyEvaluation, string) {
	if m.autoApprove != nil {
		verdict := m.autoApprove.Approve(ctx, autoapprove.Request{
			UserMessage:      in.UserMessage,
			ToolName:         resolved.toolName,
			ServerName:       resolved.serverName,
			EscalationReason: decision.Reason,
		})
		if verdict == autoapprove.DecisionApprove {
			return models.PolicyEvaluation{Decision: models.DecisionAllow, Rule: decision.Rule, Reason: "approved by auto-approver"}, "auto-approved"
		}
	}

	if m.requester == nil {
		return models.PolicyEvaluation{Decision: models.DecisionDeny, Rule: decision.Rule, Reason: "escalation required but no listener configured"}, "no-listener"
	}

	req := models.EscalationRequest{
		SessionID:  m.cfg.SessionID,
		ToolName:   resolved.toolName,
		ServerName: resolved.serverName,
		Arguments:  redactedArgs(in.Arguments),
		Reason:     decision.Reason,
		Context:    in.UserMessage,
	}
	resp, err := m.requester.Request(ctx, req, m.cfg.EscalationTimeout)
	switch {
	case errors.Is(err, escalation.ErrTimeout):
		return models.PolicyEvaluation{Decision: models.DecisionDeny, Rule: decision.Rule, Reason: "escalation timed out"}, "timeout"
	case err != nil:
		return models.PolicyEvaluation{Decision: models.DecisionDeny, Rule: decision.Rule, Reason: "escalation failed: " + err.Error()}, "error"
	case resp.Decision == models.EscalationApproved:
		if resp.WidenRoots {
			m.widenRoots(in.Arguments)
		}
		return models.PolicyEvaluation{Decision: models.DecisionAllow, Rule: decision.Rule, Reason: "approved by human"}, "approved"
	default:
		return models.PolicyEvaluation{Decision: models.DecisionDeny, Rule: decision.Rule, Reason: "denied by human"}, "denied"
	}
}

func (m *Mediator) widenRoots(args map[string]any) {
	for _, v := range args {
		if s, ok := v.(string); ok {
			if normalized, err := roles.NormalizePath(m.cfg.HomeDir, s); err == nil {
				m.downstream.AddRoot(parentDir(normalized))
			}
		}
	}
}

func (m *Mediator) forward(ctx context.Context, resolved resolvedTool, args map[string]any) models.ToolCallResult {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.DownstreamCallBudget)
	defer cancel()

	result, err := m.downstream.Call(callCtx, resolved.serverName, resolved.toolName, args)
	if err != nil {
		return models.ToolCallResult{Status: "error", Error: err.Error()}
	}
	if result.IsError {
		return models.ToolCallResult{Status: "error", Error: firstText(result), Content: result.Content}
	}
	return models.ToolCallResult{Status: "success", Content: result.Content}
}

func (m *Mediator) recordAudit(ctx context.Context, entry models.AuditEntry) error {
	if err := m.auditLog.Append(entry); err != nil {
		return err
	}
	if m.auditIndex != nil {
		hadRedaction := argsHadRedaction(entry.Arguments)
		if err := m.auditIndex.Record(ctx, m.cfg.SessionID, entry, hadRedaction); err != nil {
			m.logger.Warn("audit index write failed", "error", err)
		}
	}
	return nil
}
