// Package testharness backs the end-to-end tests with the two external
// actors a mediated session needs: a real downstream tool server (this
// test binary re-executed as a stdio JSON-RPC filesystem server) and an
// escalation responder standing in for the human approver.
package testharness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/downstream"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// fakeServerEnv marks a re-executed test binary as the fake downstream
// server rather than a test run.
const fakeServerEnv = "IRONCURTAIN_FAKE_SERVER"

// Main is the TestMain body for packages using the harness: when the
// process is a re-executed fake server it serves stdio JSON-RPC and never
// returns; otherwise it runs the tests.
func Main(m *testing.M) {
	if os.Getenv(fakeServerEnv) != "" {
		runFakeServer()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// FSServerSpec returns a downstream-server spec that re-executes the
// current test binary as a filesystem tool server.
func FSServerSpec() downstream.ServerSpec {
	return downstream.ServerSpec{
		Command: os.Args[0],
		Env:     map[string]string{fakeServerEnv: "fs"},
	}
}

// FSAnnotations builds the tool-annotations fixture matching the fake
// filesystem server. Every tool is side-effectful: in this model a tool
// touching the filesystem is never "pure", so none may ride the
// side-effect-free structural allow.
func FSAnnotations(serverName string) models.ToolAnnotationsFile {
	ann := func(tool string, args map[string][]models.ArgumentRole) models.ToolAnnotation {
		return models.ToolAnnotation{
			ServerName:  serverName,
			ToolName:    tool,
			SideEffects: true,
			Args:        args,
		}
	}
	return models.ToolAnnotationsFile{
		Servers: map[string]models.ServerAnnotationBundle{
			serverName: {
				Tools: []models.ToolAnnotation{
					ann("read_file", map[string][]models.ArgumentRole{
						"path": {models.RoleReadPath},
					}),
					ann("write_file", map[string][]models.ArgumentRole{
						"path":    {models.RoleWritePath},
						"content": {models.RoleNone},
					}),
					ann("delete_file", map[string][]models.ArgumentRole{
						"path": {models.RoleDeletePath},
					}),
					ann("move_file", map[string][]models.ArgumentRole{
						"source":      {models.RoleReadPath, models.RoleDeletePath},
						"destination": {models.RoleWritePath},
					}),
					ann("list_dir", map[string][]models.ArgumentRole{
						"path": {models.RoleReadPath},
					}),
				},
			},
		},
	}
}

// ScenarioRules is the compiled-rule fixture the end-to-end scenarios
// run against: deletes outside permitted areas are denied outright,
// any other out-of-sandbox path access escalates to a human.
func ScenarioRules() []models.CompiledRule {
	return []models.CompiledRule{
		{
			Name:   "deny-delete-outside-permitted-areas",
			If:     models.RuleCondition{Roles: []models.ArgumentRole{models.RoleDeletePath}},
			Then:   models.RuleOutcome{Decision: models.DecisionDeny},
			Reason: "delete operations outside permitted areas are denied",
		},
		{
			Name: "escalate-out-of-sandbox-access",
			If: models.RuleCondition{
				Roles: []models.ArgumentRole{models.RoleReadPath, models.RoleWritePath},
			},
			Then:   models.RuleOutcome{Decision: models.DecisionEscalate},
			Reason: "path access outside the sandbox requires approval",
		},
	}
}

// Responder answers escalation requests in a session's escalation
// directory with a fixed decision, standing in for the human approver.
type Responder struct {
	decisions atomic.Int64
	cancel    context.CancelFunc
	done      chan struct{}
}

// StartResponder polls dir and answers every request with decision.
func StartResponder(t *testing.T, dir string, decision models.EscalationDecision) *Responder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Responder{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		seen := make(map[string]bool)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				name := e.Name()
				if !strings.HasPrefix(name, "request-") || !strings.HasSuffix(name, ".json") || seen[name] {
					continue
				}
				id := strings.TrimSuffix(strings.TrimPrefix(name, "request-"), ".json")
				if err := writeResponse(dir, id, decision); err != nil {
					continue
				}
				seen[name] = true
				r.decisions.Add(1)
			}
		}
	}()

	t.Cleanup(r.Stop)
	return r
}

// Decisions reports how many escalations this responder has answered.
func (r *Responder) Decisions() int64 { return r.decisions.Load() }

// Stop ends the responder's poll loop.
func (r *Responder) Stop() {
	r.cancel()
	<-r.done
}

// writeResponse writes response-<id>.json atomically, the same
// temp-then-rename contract the real listener honors.
func writeResponse(dir, id string, decision models.EscalationDecision) error {
	resp := models.EscalationResponse{Decision: decision, RespondedAt: time.Now()}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".response-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, "response-"+id+".json"))
}
