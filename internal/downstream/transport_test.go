package downstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

// fakePeer is the remote end of a conn for tests: it reads frames off the
// conn's write side and can push frames back.
type fakePeer struct {
	in   *io.PipeWriter // what the conn reads
	out  *bufio.Scanner // what the conn wrote
	conn *conn
}

func newFakePeer(t *testing.T, onRequest func(*Request)) *fakePeer {
	t.Helper()
	connReads, peerWrites := io.Pipe()
	peerReads, connWrites := io.Pipe()

	c := newConn(connReads, connWrites, slog.Default(), onRequest)
	t.Cleanup(c.close)
	t.Cleanup(func() { peerWrites.Close() })

	return &fakePeer{
		in:   peerWrites,
		out:  bufio.NewScanner(peerReads),
		conn: c,
	}
}

func (p *fakePeer) readFrame(t *testing.T) map[string]any {
	t.Helper()
	if !p.out.Scan() {
		t.Fatalf("peer: no frame: %v", p.out.Err())
	}
	var frame map[string]any
	if err := json.Unmarshal(p.out.Bytes(), &frame); err != nil {
		t.Fatalf("peer: bad frame %q: %v", p.out.Text(), err)
	}
	return frame
}

func (p *fakePeer) writeFrame(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("peer: marshal: %v", err)
	}
	if _, err := p.in.Write(append(data, '\n')); err != nil {
		t.Fatalf("peer: write: %v", err)
	}
}

func TestConnCallCorrelatesResponse(t *testing.T) {
	peer := newFakePeer(t, nil)

	done := make(chan struct{})
	var result json.RawMessage
	var callErr error
	go func() {
		defer close(done)
		result, callErr = peer.conn.call(context.Background(), "tools/list", nil, time.Second)
	}()

	frame := peer.readFrame(t)
	if frame["method"] != "tools/list" {
		t.Fatalf("got method %v", frame["method"])
	}
	peer.writeFrame(t, Response{JSONRPC: "2.0", ID: frame["id"], Result: json.RawMessage(`{"tools":[]}`)})

	<-done
	if callErr != nil {
		t.Fatalf("call: %v", callErr)
	}
	if string(result) != `{"tools":[]}` {
		t.Fatalf("got result %s", result)
	}
}

func TestConnCallSurfacesServerError(t *testing.T) {
	peer := newFakePeer(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := peer.conn.call(context.Background(), "tools/call", CallToolParams{Name: "x"}, time.Second)
		done <- err
	}()

	frame := peer.readFrame(t)
	peer.writeFrame(t, Response{
		JSONRPC: "2.0",
		ID:      frame["id"],
		Error:   &RPCError{Code: ErrCodeInvalidParams, Message: "bad arguments"},
	})

	err := <-done
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Error(); got != "downstream: tools/call: server error -32602: bad arguments" {
		t.Fatalf("got %q", got)
	}
}

func TestConnCallTimesOut(t *testing.T) {
	peer := newFakePeer(t, nil)

	// Drain the request frame but never answer it.
	go peer.readFrame(t)

	_, err := peer.conn.call(context.Background(), "tools/list", nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestConnServesRemoteRequests(t *testing.T) {
	served := make(chan *Request, 1)
	peer := newFakePeer(t, func(req *Request) {
		served <- req
	})

	peer.writeFrame(t, Request{JSONRPC: "2.0", ID: 7, Method: "roots/list"})

	select {
	case req := <-served:
		if req.Method != "roots/list" {
			t.Fatalf("got method %q", req.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("onRequest never fired")
	}
}

func TestConnRespondWritesResult(t *testing.T) {
	peer := newFakePeer(t, nil)

	go func() {
		if err := peer.conn.respond(7, ListRootsResult{Roots: []Root{{URI: "file:///tmp/s"}}}, nil); err != nil {
			t.Errorf("respond: %v", err)
		}
	}()
	frame := peer.readFrame(t)
	if frame["id"] != float64(7) {
		t.Fatalf("got id %v", frame["id"])
	}
	result, ok := frame["result"].(map[string]any)
	if !ok {
		t.Fatalf("got result %v", frame["result"])
	}
	roots := result["roots"].([]any)
	if len(roots) != 1 {
		t.Fatalf("got %d roots", len(roots))
	}
}

func TestConnCallAfterCloseFails(t *testing.T) {
	peer := newFakePeer(t, nil)
	peer.conn.close()

	if _, err := peer.conn.call(context.Background(), "tools/list", nil, time.Second); err == nil {
		t.Fatal("expected error after close")
	}
	if err := peer.conn.notify("notifications/initialized", nil); err == nil {
		t.Fatal("expected notify to fail after close")
	}
}

func TestNumericID(t *testing.T) {
	if id, ok := numericID(float64(3)); !ok || id != 3 {
		t.Fatalf("float64: got %d %v", id, ok)
	}
	if id, ok := numericID(json.Number("12")); !ok || id != 12 {
		t.Fatalf("json.Number: got %d %v", id, ok)
	}
	if _, ok := numericID("abc"); ok {
		t.Fatal("string id should not coerce")
	}
}
