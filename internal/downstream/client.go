package downstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Client owns one downstream tool server: the subprocess, its stdio
// JSON-RPC connection, and the cached tool list from the handshake.
type Client struct {
	name   string
	spec   ServerSpec
	logger *slog.Logger
	roots  *RootSet

	cmd  *exec.Cmd
	conn *conn

	mu    sync.RWMutex
	tools []*Tool
	info  ServerInfo

	timeout time.Duration
}

// NewClient prepares a client for one configured server; Start spawns it.
func NewClient(name string, spec ServerSpec, roots *RootSet, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:    name,
		spec:    spec,
		roots:   roots,
		logger:  logger.With("server", name),
		timeout: 30 * time.Second,
	}
}

// Start spawns the server subprocess and performs the standard
// initialize/list-tools handshake. The server may ask for
// its permitted roots at any point after initialize; those requests are
// answered from the session's RootSet.
func (c *Client) Start(ctx context.Context) error {
	if c.spec.Command == "" {
		return fmt.Errorf("downstream: server %s has no command", c.name)
	}

	cmd := exec.CommandContext(ctx, c.spec.Command, c.spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("downstream: %s stdin pipe: %w", c.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("downstream: %s stdout pipe: %w", c.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("downstream: %s stderr pipe: %w", c.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("downstream: starting %s: %w", c.name, err)
	}
	c.cmd = cmd
	c.conn = newConn(stdout, stdin, c.logger, c.serveRequest)
	go c.drainStderr(stderr)

	c.logger.Info("downstream server started", "command", c.spec.Command, "pid", cmd.Process.Pid)

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	raw, err := c.conn.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": Capabilities{
			Roots: &RootsCapability{ListChanged: true},
		},
		"clientInfo": ClientInfo{Name: "ironcurtain", Version: "1"},
	}, c.timeout)
	if err != nil {
		return fmt.Errorf("downstream: %s initialize: %w", c.name, err)
	}
	var init InitializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("downstream: %s initialize result: %w", c.name, err)
	}
	c.mu.Lock()
	c.info = init.ServerInfo
	c.mu.Unlock()

	if err := c.conn.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	return c.refreshTools(ctx)
}

func (c *Client) refreshTools(ctx context.Context) error {
	raw, err := c.conn.call(ctx, "tools/list", nil, c.timeout)
	if err != nil {
		return fmt.Errorf("downstream: %s tools/list: %w", c.name, err)
	}
	var list ListToolsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("downstream: %s tools/list result: %w", c.name, err)
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()
	c.logger.Debug("tool list refreshed", "count", len(list.Tools))
	return nil
}

// serveRequest answers server-initiated requests. The only method a
// downstream server may initiate against the mediator is the roots
// exchange.
func (c *Client) serveRequest(req *Request) {
	switch req.Method {
	case "roots/list":
		var listed []Root
		for _, dir := range c.roots.List() {
			listed = append(listed, Root{URI: "file://" + dir})
		}
		if err := c.conn.respond(req.ID, ListRootsResult{Roots: listed}, nil); err != nil {
			c.logger.Warn("roots/list response failed", "error", err)
		}
	default:
		_ = c.conn.respond(req.ID, nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: "method not found: " + req.Method,
		})
	}
}

// NotifyRootsChanged tells the server its permitted root set grew, e.g.
// after a human approved an out-of-sandbox read.
func (c *Client) NotifyRootsChanged() {
	if c.conn == nil {
		return
	}
	if err := c.conn.notify("notifications/roots/list_changed", nil); err != nil {
		c.logger.Warn("roots/list_changed notification failed", "error", err)
	}
}

// Tools returns the handshake's cached tool list.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Info returns the server's self-reported identity.
func (c *Client) Info() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// CallTool relays one tools/call verbatim and decodes the
// result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	params := CallToolParams{Name: name}
	if arguments != nil {
		raw, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("downstream: marshal arguments for %s: %w", name, err)
		}
		params.Arguments = raw
	}
	raw, err := c.conn.call(ctx, "tools/call", params, c.timeout)
	if err != nil {
		return nil, err
	}
	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("downstream: decode %s result: %w", name, err)
	}
	return &result, nil
}

// Close shuts the server down cooperatively: close stdin so the server
// sees EOF, give it a grace period, then kill.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.close()
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	waited := make(chan error, 1)
	go func() { waited <- c.cmd.Wait() }()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		c.cmd.Process.Kill()
		<-waited
	}
	return nil
}

func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Debug("server stderr", "message", line)
		}
	}
}
