// Package container implements the external agent-in-a-container session
//: an ephemeral, network-isolated container wired to
// the mediator for tool calls and the MITM egress proxy for
// outbound HTTPS, with no other path to the outside world.
//
// The firecracker backend under internal/container/firecracker serves
// the sandboxed code-execution tool; this package is its own concern --
// a whole agent process lives inside the container, not one code snippet,
// so its isolation unit is a longer-lived container rather than a
// per-call microVM.
package container

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Config describes one container-agent session's image and bridge wiring.
type Config struct {
	// Image is the base image to build FROM. Empty uses ImageDefaultBase.
	Image string
	// Dockerfile is the literal Dockerfile contents used to build the
	// session image; its sha256 becomes the image's content-hash label so
	// rebuilds only happen when inputs change ("built on first
	// use with a content-hash label").
	Dockerfile string
	// SocketsDir is the per-session sockets subdirectory bind-mounted into
	// the container -- the only bind mount, so escalation files and the
	// audit log are never exposed to the agent.
	SocketsDir string
	// CACertPEM is the IronCurtain CA certificate injected into the
	// container's trust store so it can terminate TLS through the MITM
	// proxy without warnings.
	CACertPEM []byte
	// EgressProxyAddr is the MITM proxy's loopback address the container
	// is configured to route all outbound HTTPS through.
	EgressProxyAddr string
	// MediatorSocket is the path, relative to SocketsDir, of the local
	// stream socket the mediator listens on for this session's tool calls
	// ("via socat or equivalent bridge").
	MediatorSocket string
}

// ImageDefaultBase is used when Config.Image is empty.
const ImageDefaultBase = "debian:bookworm-slim"

// imageLabel is the Docker label IronCurtain stamps on built session
// images so a later build can detect "inputs unchanged, skip rebuild".
const imageLabel = "io.ironcurtain.content-hash"

// Session is one running container-agent session.
type Session struct {
	cfg         Config
	containerID string
	imageTag    string
}

// contentHash is the sha256 of the Dockerfile plus the CA cert, so a
// rotated CA or an edited Dockerfile both trigger a rebuild.
func (c Config) contentHash() string {
	h := sha256.New()
	h.Write([]byte(c.Dockerfile))
	h.Write(c.CACertPEM)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// EnsureImage builds the session image if no image carrying this
// config's content hash already exists ("image is built on
// first use with a content-hash label so rebuilds occur only when inputs
// change").
func EnsureImage(ctx context.Context, cfg Config) (string, error) {
	hash := cfg.contentHash()
	tag := "ironcurtain-agent:" + hash

	out, err := exec.CommandContext(ctx, "docker", "images", "-q",
		"--filter", "label="+imageLabel+"="+hash, tag).Output()
	if err == nil && strings.TrimSpace(string(out)) != "" {
		return tag, nil
	}

	buildDir, err := os.MkdirTemp("", "ironcurtain-agent-build-*")
	if err != nil {
		return "", fmt.Errorf("container: build dir: %w", err)
	}
	defer os.RemoveAll(buildDir)

	dockerfile := cfg.Dockerfile
	if dockerfile == "" {
		base := cfg.Image
		if base == "" {
			base = ImageDefaultBase
		}
		dockerfile = defaultDockerfile(base)
	}
	if err := os.WriteFile(filepath.Join(buildDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return "", fmt.Errorf("container: writing Dockerfile: %w", err)
	}
	if len(cfg.CACertPEM) > 0 {
		if err := os.WriteFile(filepath.Join(buildDir, "ironcurtain-ca.pem"), cfg.CACertPEM, 0o644); err != nil {
			return "", fmt.Errorf("container: writing CA cert: %w", err)
		}
	}

	args := []string{"build", "-t", tag, "--label", imageLabel + "=" + hash, buildDir}
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("container: docker build: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return tag, nil
}

// defaultDockerfile installs the IronCurtain CA into the system trust
// store, so the container-level trust store carries
// containing the IronCurtain CA".
func defaultDockerfile(base string) string {
	return fmt.Sprintf(`FROM %s
COPY ironcurtain-ca.pem /usr/local/share/ca-certificates/ironcurtain-ca.crt
RUN apt-get update && apt-get install -y --no-install-recommends ca-certificates socat \
    && update-ca-certificates \
    && rm -rf /var/lib/apt/lists/*
`, base)
}

// Start creates the container with no direct egress, the sockets-only
// bind mount, and env vars pointing the agent at the MITM proxy and the
// mediator bridge.
func Start(ctx context.Context, sessionID, imageTag string, cfg Config) (*Session, error) {
	name := "ironcurtain-" + sessionID

	args := []string{
		"run", "-d",
		"--name", name,
		"--network", "none", // no direct egress
		"-v", fmt.Sprintf("%s:/ironcurtain/sockets:rw", cfg.SocketsDir),
		"-e", "HTTPS_PROXY=" + cfg.EgressProxyAddr,
		"-e", "HTTP_PROXY=" + cfg.EgressProxyAddr,
		"-e", "NODE_EXTRA_CA_CERTS=/usr/local/share/ca-certificates/ironcurtain-ca.crt",
		"-e", "SSL_CERT_FILE=/usr/local/share/ca-certificates/ironcurtain-ca.crt",
		"-e", "IRONCURTAIN_MEDIATOR_SOCKET=/ironcurtain/sockets/" + cfg.MediatorSocket,
		imageTag,
		"sleep", "infinity",
	}

	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("container: docker run: %w", err)
	}

	return &Session{cfg: cfg, containerID: strings.TrimSpace(string(out)), imageTag: imageTag}, nil
}

// ExecTurn delivers one turn to the container as a single exec whose
// stdout the adapter parses. command is the adapter-specific invocation,
// e.g. ["claude", "-p", "--output-format", "json"].
func (s *Session) ExecTurn(ctx context.Context, command []string, stdin string) (stdout, stderr string, err error) {
	args := append([]string{"exec", "-i", s.containerID}, command...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdin = strings.NewReader(stdin)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	return outBuf.String(), errBuf.String(), runErr
}

// TurnResult is what an adapter parses a turn's stdout into before
// returning it to the session manager.
type TurnResult struct {
	Text      string          `json:"text"`
	ToolCalls json.RawMessage `json:"toolCalls,omitempty"`
}

// ParseAdapterOutput decodes one line of adapter JSON output into a
// TurnResult. Adapters that don't emit structured output return the raw
// text verbatim in Text.
func ParseAdapterOutput(stdout string) TurnResult {
	trimmed := strings.TrimSpace(stdout)
	var r TurnResult
	if err := json.Unmarshal([]byte(trimmed), &r); err == nil && r.Text != "" {
		return r
	}
	return TurnResult{Text: trimmed}
}

// Close stops and removes the container.
// Contrary to a session directory (never deleted on crash), the
// container itself carries no forensic state once its turns are recorded
// in the session's own audit log, so it is always removed.
func (s *Session) Close(ctx context.Context) error {
	if s.containerID == "" {
		return nil
	}
	timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(timeout, "docker", "rm", "-f", s.containerID).Run(); err != nil {
		return fmt.Errorf("container: removing %s: %w", s.containerID, err)
	}
	return nil
}
