package downstream

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateOutput checks result's content against schemaJSON. On mismatch
// it returns (extractedMessage, true): extractedMessage is the
// underlying server-side message when the tool already reported an
// error (IsError=true with a text block), falling back to the validator's
// own message only when the server gave no message of its own. This is
// the extractor contract callers rely on in place of leaking opaque
// validator internals.
func validateOutput(schemaJSON string, result *ToolResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if result.IsError {
		if msg := FirstText(result); msg != "" {
			return msg, true
		}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output.json", strings.NewReader(schemaJSON)); err != nil {
		return "", false // malformed schema is a config error surfaced at load time, not here
	}
	schema, err := compiler.Compile("output.json")
	if err != nil {
		return "", false
	}

	instance := contentAsInstance(result)
	if err := schema.Validate(instance); err != nil {
		if msg := FirstText(result); msg != "" {
			return msg, true
		}
		return err.Error(), true
	}
	return "", false
}

// contentAsInstance converts a tool result's text content into a value
// jsonschema can validate: JSON if it parses as JSON, else the raw text.
func contentAsInstance(result *ToolResult) any {
	text := FirstText(result)
	if text == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}
