//go:build linux

package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/sandbox"
)

// Config describes the host-side assets the runner boots VMs from.
type Config struct {
	// KernelPath is the uncompressed guest kernel image.
	KernelPath string

	// RootFS maps each supported language to its root filesystem image,
	// which must carry that language's toolchain and the guest agent.
	RootFS map[string]string

	// VCPUs and MemMB size each VM. Zero means 1 vCPU / 512 MB.
	VCPUs int64
	MemMB int64

	// BootDeadline bounds how long a guest may take from VMM start to the
	// agent answering on vsock. Zero means 15s.
	BootDeadline time.Duration
}

// Runner executes cells in per-cell Firecracker microVMs. It satisfies
// sandbox.Runner, so the interpreter treats it exactly like the container
// runner.
type Runner struct {
	cfg Config
}

var _ sandbox.Runner = (*Runner)(nil)

// NewRunner validates the host assets and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if !Available() {
		return nil, fmt.Errorf("firecracker: binary not on PATH")
	}
	if _, err := os.Stat(cfg.KernelPath); err != nil {
		return nil, fmt.Errorf("firecracker: kernel image: %w", err)
	}
	if len(cfg.RootFS) == 0 {
		return nil, fmt.Errorf("firecracker: no rootfs images configured")
	}
	for lang, path := range cfg.RootFS {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("firecracker: rootfs for %s: %w", lang, err)
		}
	}
	if cfg.BootDeadline <= 0 {
		cfg.BootDeadline = 15 * time.Second
	}
	return &Runner{cfg: cfg}, nil
}

// Available reports whether the firecracker binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("firecracker")
	return err == nil
}

// CheckRequirements verifies KVM access on top of binary presence.
func CheckRequirements() error {
	if !Available() {
		return fmt.Errorf("firecracker: binary not on PATH")
	}
	kvm, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("firecracker: /dev/kvm: %w", err)
	}
	kvm.Close()
	return nil
}

// Run boots a fresh microVM for the cell, ships the workspace to the
// guest agent, executes, and tears the VM down.
func (r *Runner) Run(ctx context.Context, cell sandbox.Cell, workspace string) (*sandbox.RunResult, error) {
	rootfs, ok := r.cfg.RootFS[cell.Language]
	if !ok {
		return nil, fmt.Errorf("firecracker: no rootfs for language %q", cell.Language)
	}

	vm, err := bootVM(ctx, vmConfig{
		KernelPath: r.cfg.KernelPath,
		RootFSPath: rootfs,
		VCPUs:      r.cfg.VCPUs,
		MemMB:      r.cfg.MemMB,
	})
	if err != nil {
		return nil, err
	}
	defer vm.stop(context.Background())

	guest, err := dialGuest(vm.vsockPath(), r.cfg.BootDeadline)
	if err != nil {
		return nil, err
	}
	defer guest.close()

	files, err := collectWorkspace(workspace)
	if err != nil {
		return nil, err
	}

	timeout := cell.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	reply, err := guest.call(guestCall{
		Op:       "exec",
		Language: cell.Language,
		Source:   cell.Source,
		Stdin:    cell.Stdin,
		Files:    files,
		Timeout:  timeout,
	}, time.Duration(timeout+5)*time.Second)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &sandbox.RunResult{TimedOut: true, Err: "execution timed out"}, nil
		}
		return nil, err
	}

	return &sandbox.RunResult{
		Stdout:   reply.Stdout,
		Stderr:   reply.Stderr,
		ExitCode: reply.ExitCode,
		TimedOut: reply.TimedOut,
		Err:      reply.Error,
	}, nil
}

// Close satisfies sandbox.Runner; VMs are per-cell so there is nothing
// long-lived to release.
func (r *Runner) Close() error { return nil }

// collectWorkspace reads every regular file in the cell's workspace for
// shipment to the guest. The bridge socket is skipped — the guest talks
// to no host socket; its only channel is this protocol.
func collectWorkspace(workspace string) (map[string]string, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil, fmt.Errorf("firecracker: reading workspace: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workspace, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("firecracker: reading %s: %w", entry.Name(), err)
		}
		files[entry.Name()] = string(data)
	}
	return files, nil
}
