package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one prepared cell inside an isolation boundary. The
// container runner here shells out to the local container engine; the
// firecracker backend in internal/container/firecracker provides a
// microVM alternative satisfying the same interface.
type Runner interface {
	Run(ctx context.Context, cell Cell, workspace string) (*RunResult, error)
	Close() error
}

// ContainerRunnerConfig bounds the container runner.
type ContainerRunnerConfig struct {
	CPUMillis int
	MemoryMB  int
	Workspace WorkspaceAccessMode

	// Engine is the container CLI to invoke; empty means "docker".
	Engine string
}

// containerRunner isolates each cell in a fresh, network-less container:
// no egress, bounded CPU/memory/pids, workspace mounted per the access
// mode with the bridge socket as the only writable shared path.
type containerRunner struct {
	cfg ContainerRunnerConfig
}

// NewContainerRunner builds the default Runner.
func NewContainerRunner(cfg ContainerRunnerConfig) Runner {
	if cfg.Engine == "" {
		cfg.Engine = "docker"
	}
	if cfg.CPUMillis <= 0 {
		cfg.CPUMillis = 1000
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 512
	}
	if cfg.Workspace == "" {
		cfg.Workspace = WorkspaceReadOnly
	}
	return &containerRunner{cfg: cfg}
}

func (r *containerRunner) Run(ctx context.Context, cell Cell, workspace string) (*RunResult, error) {
	args := []string{
		"run", "--rm",
		"--network", "none",
		"--cpus", fmt.Sprintf("%.2f", float64(r.cfg.CPUMillis)/1000.0),
		"--memory", fmt.Sprintf("%dm", r.cfg.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", r.cfg.MemoryMB),
		"--pids-limit", "100",
		"--ulimit", "nofile=1024:1024",
	}
	if cell.Stdin != "" {
		args = append(args, "-i")
	}

	switch r.cfg.Workspace {
	case WorkspaceReadWrite:
		args = append(args, "-v", workspace+":/workspace:rw")
	default:
		// The workspace itself stays read-only; the bridge socket is the
		// one writable shared path, mounted on its own.
		args = append(args, "-v", workspace+":/workspace:ro")
		args = append(args, "-v", workspace+"/"+bridgeSocketName+":/workspace/"+bridgeSocketName+":rw")
	}
	args = append(args,
		"-w", "/workspace",
		"-e", "IRONCURTAIN_TOOL_SOCKET=/workspace/"+bridgeSocketName,
		languageImage(cell.Language),
	)
	args = append(args, languageCommand(cell.Language)...)

	cmd := exec.CommandContext(ctx, r.cfg.Engine, args...)
	if cell.Stdin != "" {
		cmd.Stdin = strings.NewReader(cell.Stdin)
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.Err = "execution timed out"
		} else {
			result.Err = err.Error()
		}
	}
	return result, nil
}

func (r *containerRunner) Close() error { return nil }

func languageImage(language string) string {
	switch language {
	case "python":
		return "python:3.11-alpine"
	case "nodejs":
		return "node:20-alpine"
	case "go":
		return "golang:1.24-alpine"
	default:
		return "bash:5-alpine"
	}
}

func languageCommand(language string) []string {
	switch language {
	case "python":
		return []string{"python", "main.py"}
	case "nodejs":
		return []string{"node", "main.js"}
	case "go":
		return []string{"sh", "-c", "go run main.go"}
	default:
		return []string{"bash", "main.sh"}
	}
}
