package downstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// newTestClient wires a Client to a fakePeer without spawning a real
// subprocess: the peer plays the downstream server.
func newTestClient(t *testing.T, sandboxDir string) (*Client, *fakePeer) {
	t.Helper()
	c := &Client{
		name:    "fs",
		roots:   NewRootSet(sandboxDir),
		logger:  slog.Default(),
		timeout: time.Second,
	}
	peer := newFakePeer(t, c.serveRequest)
	c.conn = peer.conn
	return c, peer
}

func TestClientHandshake(t *testing.T) {
	c, peer := newTestClient(t, "/tmp/session/sandbox")

	done := make(chan error, 1)
	go func() { done <- c.handshake(context.Background()) }()

	// initialize
	frame := peer.readFrame(t)
	if frame["method"] != "initialize" {
		t.Fatalf("got first method %v", frame["method"])
	}
	initResult, _ := json.Marshal(InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: "fake-fs", Version: "0.1"},
	})
	peer.writeFrame(t, Response{JSONRPC: "2.0", ID: frame["id"], Result: initResult})

	// notifications/initialized
	frame = peer.readFrame(t)
	if frame["method"] != "notifications/initialized" {
		t.Fatalf("got second method %v", frame["method"])
	}

	// tools/list
	frame = peer.readFrame(t)
	if frame["method"] != "tools/list" {
		t.Fatalf("got third method %v", frame["method"])
	}
	listResult, _ := json.Marshal(ListToolsResult{
		Tools: []*Tool{{Name: "read_file", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	peer.writeFrame(t, Response{JSONRPC: "2.0", ID: frame["id"], Result: listResult})

	if err := <-done; err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if got := c.Info().Name; got != "fake-fs" {
		t.Fatalf("got server name %q", got)
	}
	tools := c.Tools()
	if len(tools) != 1 || tools[0].Name != "read_file" {
		t.Fatalf("got tools %+v", tools)
	}
}

func TestClientAnswersRootsList(t *testing.T) {
	c, peer := newTestClient(t, "/tmp/session/sandbox")
	c.roots.Add("/etc")

	peer.writeFrame(t, Request{JSONRPC: "2.0", ID: 42, Method: "roots/list"})

	frame := peer.readFrame(t)
	if frame["id"] != float64(42) {
		t.Fatalf("got id %v", frame["id"])
	}
	result := frame["result"].(map[string]any)
	roots := result["roots"].([]any)
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want sandbox + /etc", len(roots))
	}
	first := roots[0].(map[string]any)
	if first["uri"] != "file:///tmp/session/sandbox" {
		t.Fatalf("got first root %v", first["uri"])
	}
}

func TestClientRejectsUnknownServerRequest(t *testing.T) {
	_, peer := newTestClient(t, "/tmp/sb")

	peer.writeFrame(t, Request{JSONRPC: "2.0", ID: 9, Method: "sampling/createMessage"})

	frame := peer.readFrame(t)
	errObj, ok := frame["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", frame)
	}
	if errObj["code"] != float64(ErrCodeMethodNotFound) {
		t.Fatalf("got code %v", errObj["code"])
	}
}

func TestClientCallToolDecodesResult(t *testing.T) {
	c, peer := newTestClient(t, "/tmp/sb")

	done := make(chan struct{})
	var result *ToolResult
	var callErr error
	go func() {
		defer close(done)
		result, callErr = c.CallTool(context.Background(), "read_file", map[string]any{"path": "/tmp/sb/x"})
	}()

	frame := peer.readFrame(t)
	if frame["method"] != "tools/call" {
		t.Fatalf("got method %v", frame["method"])
	}
	params := frame["params"].(map[string]any)
	if params["name"] != "read_file" {
		t.Fatalf("got tool name %v", params["name"])
	}
	raw, _ := json.Marshal(ToolResult{Content: TextContent("hello")})
	peer.writeFrame(t, Response{JSONRPC: "2.0", ID: frame["id"], Result: raw})

	<-done
	if callErr != nil {
		t.Fatalf("CallTool: %v", callErr)
	}
	if got := FirstText(result); got != "hello" {
		t.Fatalf("got text %q", got)
	}
}
