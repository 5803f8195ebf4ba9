package autoapprove

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// systemPrompt is intentionally restrictive: the auto-approver must never
// be coaxed into rubber-stamping a tool call it has any doubt about.
const systemPrompt = `You are a conservative safety reviewer for an autonomous coding agent.
A policy engine has already decided this tool call requires human approval
and is asking whether the user's most recent message already, unambiguously
authorizes it. You do not see the tool's arguments, only its name and the
reason it was escalated.

Respond with approve only when the user's message explicitly and
unambiguously asked for this exact action. In every other case — including
any ambiguity, any uncertainty, or silence on the matter — respond with
escalate so a human reviews it. When in doubt, escalate.

Respond with exactly one JSON object matching this schema and nothing else:
{"decision": "approve" | "escalate"}`

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["decision"],
  "additionalProperties": false,
  "properties": {
    "decision": {"type": "string", "enum": ["approve", "escalate"]}
  }
}`

func userPrompt(req Request) string {
	return fmt.Sprintf(
		"Tool: %s (server: %s)\nEscalation reason: %s\nUser's most recent message: %q\n\nShould this tool call be approved?",
		req.ToolName, req.ServerName, req.EscalationReason, req.UserMessage,
	)
}

// parseDecision validates raw against the schema-bound response contract
// and maps it to a Decision. Any malformed or schema-violating response,
// or any decision value other than "approve"/"escalate" (including an
// adversarial "deny"), is rejected — the caller must treat a parse error
// as escalate.
func parseDecision(raw string) (Decision, error) {
	raw = extractJSONObject(raw)

	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return "", fmt.Errorf("autoapprove: response is not valid JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(responseSchemaJSON)); err != nil {
		return "", fmt.Errorf("autoapprove: compile response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return "", fmt.Errorf("autoapprove: compile response schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return "", fmt.Errorf("autoapprove: response failed schema validation: %w", err)
	}

	obj, _ := instance.(map[string]any)
	decision, _ := obj["decision"].(string)
	switch Decision(decision) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionEscalate:
		return DecisionEscalate, nil
	default:
		return "", fmt.Errorf("autoapprove: unrecognized decision %q", decision)
	}
}

// extractJSONObject trims any leading/trailing prose a model might emit
// around the JSON object despite instructions not to.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
