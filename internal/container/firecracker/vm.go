//go:build linux

package firecracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"
)

// vmConfig describes one microVM boot.
type vmConfig struct {
	KernelPath string
	RootFSPath string
	VCPUs      int64
	MemMB      int64
	BootArgs   string
}

// microVM is one booted Firecracker machine serving exactly one cell.
type microVM struct {
	id      string
	workDir string
	machine *firecracker.Machine
}

// defaultBootArgs keeps the guest quiet and drops it straight into the
// agent via init.
const defaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off quiet init=/usr/local/bin/guest-agent"

// bootVM launches a fresh microVM and waits for its VMM socket.
func bootVM(ctx context.Context, cfg vmConfig) (*microVM, error) {
	if cfg.VCPUs <= 0 {
		cfg.VCPUs = 1
	}
	if cfg.MemMB <= 0 {
		cfg.MemMB = 512
	}
	if cfg.BootArgs == "" {
		cfg.BootArgs = defaultBootArgs
	}

	id := uuid.NewString()[:8]
	workDir, err := os.MkdirTemp("", "ironcurtain-vm-"+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("firecracker: vm work dir: %w", err)
	}

	fcCfg := firecracker.Config{
		SocketPath:      filepath.Join(workDir, "fc.sock"),
		KernelImagePath: cfg.KernelPath,
		KernelArgs:      cfg.BootArgs,
		LogLevel:        "Warning",
		Drives: []models.Drive{
			{
				DriveID:      firecracker.String("rootfs"),
				PathOnHost:   firecracker.String(cfg.RootFSPath),
				IsRootDevice: firecracker.Bool(true),
				IsReadOnly:   firecracker.Bool(true),
			},
		},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(cfg.VCPUs),
			MemSizeMib: firecracker.Int64(cfg.MemMB),
			Smt:        firecracker.Bool(false),
		},
		VsockDevices: []firecracker.VsockDevice{
			{Path: filepath.Join(workDir, "vsock.sock"), CID: 3},
		},
		// No network interfaces: the guest's only channel is vsock.
	}

	machine, err := firecracker.NewMachine(ctx, fcCfg)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("firecracker: creating machine: %w", err)
	}
	if err := machine.Start(ctx); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("firecracker: starting machine: %w", err)
	}

	return &microVM{id: id, workDir: workDir, machine: machine}, nil
}

// vsockPath is the host unix socket bridging to the guest's vsock.
func (vm *microVM) vsockPath() string {
	return filepath.Join(vm.workDir, "vsock.sock")
}

// stop kills the VMM, reaps it, and removes the VM's scratch state.
func (vm *microVM) stop(ctx context.Context) error {
	err := vm.machine.StopVMM()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = vm.machine.Wait(waitCtx)
	os.RemoveAll(vm.workDir)
	if err != nil {
		return fmt.Errorf("firecracker: stopping vm %s: %w", vm.id, err)
	}
	return nil
}
