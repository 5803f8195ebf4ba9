//go:build !linux

package firecracker

import (
	"context"
	"fmt"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/sandbox"
)

// Config mirrors the linux build's configuration so callers compile
// everywhere; only linux hosts can boot microVMs.
type Config struct {
	KernelPath   string
	RootFS       map[string]string
	VCPUs        int64
	MemMB        int64
	BootDeadline time.Duration
}

// Runner is unavailable off linux.
type Runner struct{}

var _ sandbox.Runner = (*Runner)(nil)

var errUnsupported = fmt.Errorf("firecracker: requires linux with KVM")

// NewRunner always fails off linux.
func NewRunner(Config) (*Runner, error) { return nil, errUnsupported }

// Available reports false off linux.
func Available() bool { return false }

// CheckRequirements always fails off linux.
func CheckRequirements() error { return errUnsupported }

// Run is unreachable; NewRunner never returns a Runner here.
func (r *Runner) Run(context.Context, sandbox.Cell, string) (*sandbox.RunResult, error) {
	return nil, errUnsupported
}

// Close satisfies sandbox.Runner.
func (r *Runner) Close() error { return nil }
