package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func startTestBridge(t *testing.T, tools ToolCaller, limit int) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), bridgeSocketName)
	bridge, err := StartBridge(socketPath, tools, limit, nil)
	if err != nil {
		t.Fatalf("StartBridge: %v", err)
	}
	t.Cleanup(func() { bridge.Close() })
	return socketPath
}

func roundTrip(t *testing.T, socketPath string, req bridgeRequest) bridgeResponse {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(req)
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("no response: %v", scanner.Err())
	}
	var resp bridgeResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("bad response %q: %v", scanner.Text(), err)
	}
	return resp
}

func TestBridgeRelaysToolCall(t *testing.T) {
	var gotTool string
	var gotArgs map[string]any
	socketPath := startTestBridge(t, func(ctx context.Context, tool string, args map[string]any) (ToolResult, error) {
		gotTool = tool
		gotArgs = args
		return ToolResult{Content: "file contents"}, nil
	}, 1024)

	resp := roundTrip(t, socketPath, bridgeRequest{
		ID:        1,
		Tool:      "read_file",
		Arguments: map[string]any{"path": "/tmp/s/hello.txt"},
	})

	if gotTool != "read_file" {
		t.Fatalf("got tool %q", gotTool)
	}
	if gotArgs["path"] != "/tmp/s/hello.txt" {
		t.Fatalf("got args %v", gotArgs)
	}
	if resp.ID != 1 || resp.IsError || resp.Content != "file contents" {
		t.Fatalf("got %+v", resp)
	}
}

func TestBridgeTruncatesOversizedResults(t *testing.T) {
	big := strings.Repeat("a", 4096)
	socketPath := startTestBridge(t, func(context.Context, string, map[string]any) (ToolResult, error) {
		return ToolResult{Content: big}, nil
	}, 256)

	resp := roundTrip(t, socketPath, bridgeRequest{ID: 2, Tool: "read_file"})
	if len(resp.Content) >= len(big) {
		t.Fatalf("content not truncated: %d bytes", len(resp.Content))
	}
	if !strings.Contains(resp.Content, "truncated") {
		t.Fatalf("missing truncation marker: %q", resp.Content)
	}
}

func TestBridgeSurfacesCallerError(t *testing.T) {
	socketPath := startTestBridge(t, func(context.Context, string, map[string]any) (ToolResult, error) {
		return ToolResult{}, errors.New("audit write failed, call cancelled")
	}, 1024)

	resp := roundTrip(t, socketPath, bridgeRequest{ID: 3, Tool: "write_file"})
	if !resp.IsError {
		t.Fatal("expected IsError")
	}
	if !strings.Contains(resp.Content, "audit write failed") {
		t.Fatalf("got %q", resp.Content)
	}
}

func TestBridgeSequentialRequestsOneConnection(t *testing.T) {
	calls := 0
	socketPath := startTestBridge(t, func(ctx context.Context, tool string, args map[string]any) (ToolResult, error) {
		calls++
		return ToolResult{Content: tool}, nil
	}, 1024)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	scanner := bufio.NewScanner(conn)

	for i, tool := range []string{"list_dir", "read_file"} {
		data, _ := json.Marshal(bridgeRequest{ID: int64(i), Tool: tool})
		if _, err := conn.Write(append(data, '\n')); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !scanner.Scan() {
			t.Fatalf("no response %d: %v", i, scanner.Err())
		}
		var resp bridgeResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad response: %v", err)
		}
		if resp.Content != tool {
			t.Fatalf("got %q, want %q", resp.Content, tool)
		}
	}
	if calls != 2 {
		t.Fatalf("got %d calls", calls)
	}
}
