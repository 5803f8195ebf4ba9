// Package downstream implements the downstream tool server manager: it
// spawns, handshakes with, and relays calls to downstream stdio JSON-RPC
// tool servers, and manages the "roots" protocol extension that tells
// each server which filesystem locations it is permitted to touch.
package downstream

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/backoff"
)

// ServerSpec is one entry of the downstream-server config JSON:
// map of serverName -> {command, args[], env?, sandbox?}.
type ServerSpec struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	Sandbox string            `yaml:"sandbox" json:"sandbox,omitempty"`
}

// Manager spawns and owns one Client per configured downstream server,
// shares one RootSet across them, and layers the schema-mismatch
// extraction on top of relayed calls. Ownership is
// tree-shaped: the mediator owns the Manager, the Manager owns each
// per-server handle.
type Manager struct {
	logger *slog.Logger
	roots  *RootSet

	mu      sync.RWMutex
	clients map[string]*Client

	outputSchemas map[string]string // "server.tool" -> raw JSON schema
}

// New builds a Manager from the resolved server specs. baseDir resolves
// relative server commands (./src/..., node_modules/...) to absolute
// paths before spawn.
func New(logger *slog.Logger, baseDir string, specs map[string]ServerSpec, sandboxDir string) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "downstream")
	roots := NewRootSet(sandboxDir)

	clients := make(map[string]*Client, len(specs))
	for name, spec := range specs {
		spec.Command = resolveRelative(baseDir, spec.Command)
		clients[name] = NewClient(name, spec, roots, logger)
	}
	return &Manager{
		logger:        logger,
		roots:         roots,
		clients:       clients,
		outputSchemas: make(map[string]string),
	}, nil
}

// resolveRelative resolves command strings that look like relative paths
// (./src/..., node_modules/...) against baseDir; bare executable names on
// $PATH (e.g. "python3") are left untouched.
func resolveRelative(baseDir, command string) string {
	if command == "" || filepath.IsAbs(command) {
		return command
	}
	if strings.HasPrefix(command, "./") || strings.HasPrefix(command, "../") || strings.HasPrefix(command, "node_modules/") {
		return filepath.Join(baseDir, command)
	}
	return command
}

// Start connects to every configured server, performing the
// initialize/list-tools handshake. A server that fails to come up is
// respawned a few times with backoff before being dropped; one server
// staying down doesn't abort the rest.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		spec := client.spec
		err := backoff.Retry(ctx, backoff.Policy{Initial: 250 * time.Millisecond, Attempts: 3}, func(attempt int) error {
			if attempt > 1 {
				m.clients[name] = NewClient(name, spec, m.roots, m.logger)
			}
			return m.clients[name].Start(ctx)
		})
		if err != nil {
			m.logger.Error("downstream server failed to start", "server", name, "error", err)
			delete(m.clients, name)
		}
	}
	return nil
}

// Stop shuts every downstream server down.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, client := range m.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("downstream: stopping %s: %w", name, err)
		}
		delete(m.clients, name)
	}
	return firstErr
}

// ListTools returns the union of all downstream tools, keyed by server.
func (m *Manager) ListTools() map[string][]*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]*Tool, len(m.clients))
	for name, client := range m.clients {
		if tools := client.Tools(); len(tools) > 0 {
			out[name] = tools
		}
	}
	return out
}

// RegisterOutputSchema attaches an output JSON schema used by Call's
// schema-mismatch extraction for (serverName, toolName).
func (m *Manager) RegisterOutputSchema(serverName, toolName, schemaJSON string) {
	m.outputSchemas[serverName+"."+toolName] = schemaJSON
}

// Call relays one tools/call to the named downstream server, returning the
// raw result content. Output schema mismatches are tolerated: the
// underlying server-side message is extracted and returned as a plain
// text error rather than the opaque validator error.
func (m *Manager) Call(ctx context.Context, serverName, toolName string, args map[string]any) (*ToolResult, error) {
	m.mu.RLock()
	client, ok := m.clients[serverName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("downstream: server %q not connected", serverName)
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("downstream: call %s.%s: %w", serverName, toolName, err)
	}

	if schemaJSON, ok := m.outputSchemas[serverName+"."+toolName]; ok {
		if msg, mismatched := validateOutput(schemaJSON, result); mismatched {
			return nil, fmt.Errorf("downstream: %s.%s output schema mismatch: %s", serverName, toolName, msg)
		}
	}
	return result, nil
}

// AddRoot registers dir as an additional permitted root and tells every
// connected server the set changed, so the next call succeeds at the
// server-enforced boundary.
func (m *Manager) AddRoot(dir string) {
	m.roots.Add(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, client := range m.clients {
		client.NotifyRootsChanged()
	}
}

// Roots returns the manager's root set.
func (m *Manager) Roots() *RootSet { return m.roots }
