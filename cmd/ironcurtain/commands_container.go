package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/ironcurtain/ironcurtain/internal/config"
	"github.com/ironcurtain/ironcurtain/internal/container"
	"github.com/ironcurtain/ironcurtain/internal/egress"
	"github.com/ironcurtain/ironcurtain/internal/mediator"
	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/internal/sessionmgr"
)

// runContainerTurn starts the MITM egress proxy, bridges the session's
// mediator onto a local stream socket inside the session's sockets
// directory, builds (or reuses) the agent image, starts the container,
// and delivers stdin as a single turn.
func runContainerTurn(ctx context.Context, cfg config.Config, session *sessionmgr.Session, agentID string, metrics *observability.Metrics) error {
	logger := slog.Default().With("component", "cmd.container", "agent", agentID)

	ca, err := egress.LoadOrGenerateCA(cfg.Egress.CADir)
	if err != nil {
		return fmt.Errorf("container: loading egress CA: %w", err)
	}
	registry := egress.NewRegistry(cfg.Egress.Providers)
	proxy := egress.New(ca, registry, logger, metrics)

	egressAddr := cfg.Egress.ListenAddr
	if egressAddr == "" {
		egressAddr = "127.0.0.1:8443"
	}
	go func() {
		if err := proxy.ListenAndServe(ctx, egressAddr); err != nil && ctx.Err() == nil {
			logger.Error("egress proxy stopped", "error", err)
		}
	}()

	const mediatorSocketName = "mediator.sock"
	socketPath := filepath.Join(session.Layout.Sockets, mediatorSocketName)
	os.Remove(socketPath) // stale socket from a crashed prior run

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("container: listening on mediator socket: %w", err)
	}
	defer listener.Close()

	go serveMediatorSocket(ctx, listener, session, logger)

	containerCfg := container.Config{
		Image:           cfg.Container.Image,
		SocketsDir:      session.Layout.Sockets,
		CACertPEM:       ca.CertPEM(),
		EgressProxyAddr: "http://" + egressAddr,
		MediatorSocket:  mediatorSocketName,
	}

	imageTag, err := container.EnsureImage(ctx, containerCfg)
	if err != nil {
		return fmt.Errorf("container: building agent image: %w", err)
	}

	cs, err := container.Start(ctx, session.ID, imageTag, containerCfg)
	if err != nil {
		return fmt.Errorf("container: starting agent container: %w", err)
	}
	defer cs.Close(context.Background())

	turnInput, err := readAllStdin()
	if err != nil {
		return fmt.Errorf("container: reading turn input: %w", err)
	}

	stdout, stderr, err := cs.ExecTurn(ctx, adapterCommand(agentID), turnInput)
	if err != nil {
		return fmt.Errorf("container: turn exec failed: %w: %s", err, stderr)
	}

	result := container.ParseAdapterOutput(stdout)
	fmt.Println(result.Text)
	return nil
}

// serveMediatorSocket accepts connections on the session's local stream
// socket and runs one mediator.Server per connection -- the socat bridge
// inside the container dials this socket for every tool call.
func serveMediatorSocket(ctx context.Context, listener net.Listener, session *sessionmgr.Session, logger *slog.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("mediator socket accept", "error", err)
			return
		}
		go func() {
			defer conn.Close()
			srv := mediator.NewServer(session, logger, session.LastUserMessage)
			if err := srv.Serve(ctx, conn, conn); err != nil {
				logger.Warn("mediator socket connection ended", "error", err)
			}
		}()
	}
}

// adapterCommand maps an agent id to the in-container invocation whose
// stdout the matching adapter parses. Only the generic "exec" adapter is
// implemented; others are left as documented extension points.
func adapterCommand(agentID string) []string {
	switch agentID {
	default:
		return []string{"sh", "-c", "cat"}
	}
}

func readAllStdin() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var out []byte
	for scanner.Scan() {
		out = append(out, scanner.Bytes()...)
		out = append(out, '\n')
	}
	return string(out), scanner.Err()
}
