package testharness

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ironcurtain/ironcurtain/internal/downstream"
)

// runFakeServer speaks the downstream wire protocol on stdio, exposing
// simple filesystem tools that really touch the disk — the scenarios
// assert on file contents, not canned strings.
func runFakeServer() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req downstream.Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue // notifications need no reply
		}

		var result any
		var rpcErr *downstream.RPCError
		switch req.Method {
		case "initialize":
			result = downstream.InitializeResult{
				ProtocolVersion: "2024-11-05",
				Capabilities:    downstream.Capabilities{Tools: &downstream.ToolsCapability{}},
				ServerInfo:      downstream.ServerInfo{Name: "fake-fs", Version: "test"},
			}
		case "tools/list":
			result = downstream.ListToolsResult{Tools: fakeTools()}
		case "tools/call":
			result = callTool(req.Params)
		default:
			rpcErr = &downstream.RPCError{Code: downstream.ErrCodeMethodNotFound, Message: "method not found: " + req.Method}
		}

		resp := downstream.Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &downstream.RPCError{Code: downstream.ErrCodeInternalError, Message: err.Error()}
			} else {
				resp.Result = raw
			}
		}
		enc.Encode(resp)
	}
}

func fakeTools() []*downstream.Tool {
	schema := func(required ...string) json.RawMessage {
		props := map[string]any{}
		for _, name := range required {
			props[name] = map[string]any{"type": "string"}
		}
		raw, _ := json.Marshal(map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		})
		return raw
	}
	return []*downstream.Tool{
		{Name: "read_file", Description: "Read a file's contents", InputSchema: schema("path")},
		{Name: "write_file", Description: "Write content to a file", InputSchema: schema("path", "content")},
		{Name: "delete_file", Description: "Delete a file", InputSchema: schema("path")},
		{Name: "move_file", Description: "Move a file", InputSchema: schema("source", "destination")},
		{Name: "list_dir", Description: "List a directory", InputSchema: schema("path")},
	}
}

func callTool(raw json.RawMessage) downstream.ToolResult {
	var params downstream.CallToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return errResult("bad params: " + err.Error())
	}
	args := map[string]string{}
	if len(params.Arguments) > 0 {
		var anyArgs map[string]any
		if err := json.Unmarshal(params.Arguments, &anyArgs); err != nil {
			return errResult("bad arguments: " + err.Error())
		}
		for k, v := range anyArgs {
			if s, ok := v.(string); ok {
				args[k] = s
			}
		}
	}

	switch params.Name {
	case "read_file":
		data, err := os.ReadFile(args["path"])
		if err != nil {
			return errResult(err.Error())
		}
		return okResult(string(data))
	case "write_file":
		if err := os.WriteFile(args["path"], []byte(args["content"]), 0o644); err != nil {
			return errResult(err.Error())
		}
		return okResult("written")
	case "delete_file":
		if err := os.Remove(args["path"]); err != nil {
			return errResult(err.Error())
		}
		return okResult("deleted")
	case "move_file":
		if err := os.Rename(args["source"], args["destination"]); err != nil {
			return errResult(err.Error())
		}
		return okResult("moved")
	case "list_dir":
		entries, err := os.ReadDir(args["path"])
		if err != nil {
			return errResult(err.Error())
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return okResult(strings.Join(names, "\n"))
	default:
		return errResult(fmt.Sprintf("unknown tool %q", params.Name))
	}
}

func okResult(text string) downstream.ToolResult {
	return downstream.ToolResult{Content: downstream.TextContent(text)}
}

func errResult(text string) downstream.ToolResult {
	return downstream.ToolResult{Content: downstream.TextContent(text), IsError: true}
}
