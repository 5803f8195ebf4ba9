package mediator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ironcurtain/ironcurtain/internal/downstream"
)

// CallLister is the surface Server needs: aggregate the tool list and run
// one call through mediation. *Mediator satisfies it directly; so does
// anything that wraps a Mediator with extra session bookkeeping (e.g.
// sessionmgr.Session, which also records diagnostic events per call).
type CallLister interface {
	ListTools() []AggregatedTool
	Call(ctx context.Context, in CallInput) (CallOutput, error)
}

// Server speaks the aggregated tool-server endpoint over newline-delimited
// JSON-RPC 2.0: initialize, tools/list,
// tools/call, plus the standard root-exchange notifications. It has no
// transport opinion beyond an io.Reader/io.Writer pair so the same Server
// drives either a session's stdio pipe (built-in agent) or a local
// stream socket (container mode).
type Server struct {
	med         CallLister
	logger      *slog.Logger
	userMessage func() string // most recent human turn text, for the auto-approver

	mu  sync.Mutex // serializes writes to the output stream
	out *json.Encoder
}

// NewServer wires a Server around anything satisfying CallLister.
// userMessage, if non-nil, is consulted on every tools/call so an
// escalation can be auto-approved against the operator's latest turn
//; a nil func yields an empty user message, which always
// fails the auto-approver's "empty user message" guard and
// forces human escalation.
func NewServer(med CallLister, logger *slog.Logger, userMessage func() string) *Server {
	if userMessage == nil {
		userMessage = func() string { return "" }
	}
	return &Server{med: med, logger: logger, userMessage: userMessage}
}

// Serve runs the read-eval-respond loop until r is exhausted or a read
// fails; ctx is handed to every call, and a failed write is logged
// rather than ending the loop. One line in, at most one line out; each
// inbound request becomes one task and
// tasks may run concurrently (ordering across tool calls is not
// guaranteed by the wire loop itself -- the mediator's own audit
// ordering guarantee is per evaluation, not per request arrival).
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req downstream.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, downstream.ErrCodeParseError, "parse error: "+err.Error())
			continue
		}

		id := req.ID
		method := req.Method
		params := req.Params

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, id, method, params)
		}()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mediator: server read loop: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, id any, method string, params json.RawMessage) {
	switch method {
	case "initialize":
		s.handleInitialize(id)
	case "tools/list":
		s.handleListTools(id)
	case "tools/call":
		s.handleCallTool(ctx, id, params)
	case "notifications/initialized", "notifications/roots/list_changed":
		// Notifications carry no ID and expect no response.
	default:
		s.writeError(id, downstream.ErrCodeMethodNotFound, "method not found: "+method)
	}
}

func (s *Server) handleInitialize(id any) {
	s.writeResult(id, downstream.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: downstream.Capabilities{
			Tools: &downstream.ToolsCapability{ListChanged: false},
			Roots: &downstream.RootsCapability{ListChanged: true},
		},
		ServerInfo: downstream.ServerInfo{Name: "ironcurtain-mediator", Version: "1"},
	})
}

func (s *Server) handleListTools(id any) {
	aggregated := s.med.ListTools()
	tools := make([]*downstream.Tool, 0, len(aggregated))
	for _, t := range aggregated {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		tools = append(tools, &downstream.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	s.writeResult(id, downstream.ListToolsResult{Tools: tools})
}

func (s *Server) handleCallTool(ctx context.Context, id any, raw json.RawMessage) {
	var params downstream.CallToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.writeError(id, downstream.ErrCodeInvalidParams, "invalid tools/call params: "+err.Error())
		return
	}
	var args map[string]any
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			s.writeError(id, downstream.ErrCodeInvalidParams, "invalid tool arguments: "+err.Error())
			return
		}
	}

	out, err := s.med.Call(ctx, CallInput{
		ToolName:    params.Name,
		Arguments:   args,
		UserMessage: s.userMessage(),
	})
	if err != nil {
		// An audit write failure (the only error Call returns) cancels
		// the call outright rather than silently allowing it.
		s.writeError(id, downstream.ErrCodeInternalError, err.Error())
		return
	}

	// Tool-call errors travel as regular results with isError=true --
	// a policy deny is not a transport-level error.
	result := downstream.ToolResult{}
	if out.Result.Status != "success" {
		result.IsError = true
		text := out.Result.Error
		if text == "" {
			text = fmt.Sprintf("%s: %s", out.Result.Status, out.Decision.Reason)
		}
		result.Content = []downstream.ContentBlock{{Type: "text", Text: text}}
	} else {
		result.Content = []downstream.ContentBlock{{Type: "text", Text: StringifyContent(out.Result.Content)}}
	}
	s.writeResult(id, result)
}

func (s *Server) writeResult(id any, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, downstream.ErrCodeInternalError, "marshal result: "+err.Error())
		return
	}
	s.write(downstream.Response{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) writeError(id any, code int, message string) {
	s.write(downstream.Response{JSONRPC: "2.0", ID: id, Error: &downstream.RPCError{Code: code, Message: message}})
}

// StringifyContent renders a forwarded tool result's content as the
// single text block the wire shape wants. Downstream
// servers already return structured MCP content in practice; this is
// the fallback for relayed-verbatim downstream results that aren't already a
// string.
func StringifyContent(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func (s *Server) write(resp downstream.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Error("mediator: writing response", "error", err)
	}
}
