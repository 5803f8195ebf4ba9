package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledPolicySchema and toolAnnotationsSchema validate the two
// offline-pipeline artifacts before the
// mediator trusts them. Schema violations are configuration errors: fatal
// at mediator start, never surfaced per-call.
const compiledPolicySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["generatedAt", "constitutionHash", "inputHash", "rules"],
  "properties": {
    "generatedAt": {"type": "string"},
    "constitutionHash": {"type": "string", "minLength": 1},
    "inputHash": {"type": "string", "minLength": 1},
    "protectedPaths": {"type": "array", "items": {"type": "string"}},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "if", "then"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "principle": {"type": "string"},
          "reason": {"type": "string"},
          "if": {
            "type": "object",
            "properties": {
              "roles": {"type": "array", "items": {"type": "string"}},
              "server": {"type": "array", "items": {"type": "string"}},
              "tool": {"type": "array", "items": {"type": "string"}},
              "sideEffects": {"type": "boolean"},
              "paths": {
                "type": "object",
                "required": ["within"],
                "properties": {
                  "roles": {"type": "array", "items": {"type": "string"}},
                  "within": {"type": "string", "minLength": 1}
                }
              }
            }
          },
          "then": {
            "type": "object",
            "required": ["decision"],
            "properties": {
              "decision": {"type": "string", "enum": ["allow", "deny", "escalate"]}
            }
          }
        }
      }
    }
  }
}`

const toolAnnotationsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["generatedAt", "servers"],
  "properties": {
    "generatedAt": {"type": "string"},
    "servers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["tools"],
        "properties": {
          "inputHash": {"type": "string"},
          "tools": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["serverName", "toolName", "args"],
              "properties": {
                "serverName": {"type": "string", "minLength": 1},
                "toolName": {"type": "string", "minLength": 1},
                "comment": {"type": "string"},
                "sideEffects": {"type": "boolean"},
                "args": {
                  "type": "object",
                  "additionalProperties": {
                    "type": "array",
                    "items": {"type": "string"}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("policy: add schema resource %s: %w", name, err)
	}
	return c.Compile(name)
}

func validateAgainstSchema(schemaJSON string, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("policy: parse artifact: %w", err)
	}
	schema, err := compileSchema("inline.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("policy: compile schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("policy: schema validation: %w", err)
	}
	return nil
}
