package egress

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ironcurtain/ironcurtain/internal/observability"
	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Config bounds one Proxy's behavior.
type Config struct {
	ListenAddr string
	CADir      string
}

// Proxy is the loopback MITM egress proxy. Container
// agents are given this proxy's certificate as their sole trusted root and
// route all HTTPS traffic through it via CONNECT; the proxy terminates
// TLS, enforces the per-provider endpoint allowlist, rewrites request
// bodies where configured, and injects the real upstream credential.
type Proxy struct {
	ca       *CA
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	// upstream performs the outbound round trips. Its dialer refuses
	// non-public destinations; tests swap in their own transport.
	upstream *http.Client

	server *http.Server
}

// New constructs a Proxy. ca and registry must already be loaded.
func New(ca *CA, registry *Registry, logger *slog.Logger, metrics *observability.Metrics) *Proxy {
	return &Proxy{
		ca:       ca,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		upstream: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: guardedDialContext,
			},
		},
	}
}

// ListenAndServe starts the proxy's CONNECT listener and blocks until ctx
// is cancelled or the listener fails.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(ctx, ln)
}

// Serve accepts CONNECT requests on ln until ctx is cancelled or the
// listener fails.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	p.server = &http.Server{
		Handler: http.HandlerFunc(p.handleConnect),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleConnect answers an HTTP CONNECT request by checking the target
// host against the provider allowlist, then terminating TLS with a
// CA-signed leaf certificate and relaying decrypted requests through
// serveTLSConn. A host outside the allowlist is refused at CONNECT.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}

	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}

	cfg, ok := p.registry.Lookup(host)
	if !ok {
		p.logger.Warn("egress: host not in allowlist", "host", host)
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	leaf, err := p.ca.LeafFor(host)
	if err != nil {
		p.logger.Error("egress: issuing leaf certificate", "host", host, "error", err)
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{*leaf}})
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		p.logger.Error("egress: TLS handshake failed", "host", host, "error", err)
		return
	}

	p.serveTLSConn(r.Context(), tlsConn, host, r.Host, cfg)
}

// serveTLSConn reads successive HTTP requests off conn, evaluates each
// against the allowlist, rewrites and forwards allowed ones, and writes
// the upstream response back. hostport is the CONNECT target verbatim,
// preserving a non-default port.
func (p *Proxy) serveTLSConn(ctx context.Context, conn net.Conn, host, hostport string, cfg models.ProviderConfig) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("egress: connection closed", "host", host, "error", err)
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = hostport
		req.RequestURI = ""

		start := time.Now()
		resp, verdict := p.forward(ctx, req, host, hostport, cfg)
		p.metrics.RecordEgressRequest(host, verdict, time.Since(start))

		if resp == nil {
			resp = denyResponse(verdict)
		}
		if err := resp.Write(conn); err != nil {
			return
		}
		resp.Body.Close()
	}
}

// forward applies the allowlist, key injection, and body rewrite to req
// and, if permitted, performs the upstream round trip.
func (p *Proxy) forward(ctx context.Context, req *http.Request, host, hostport string, cfg models.ProviderConfig) (*http.Response, string) {
	if !EndpointAllowed(cfg, req.Method, req.URL.Path) {
		return nil, "endpoint-denied"
	}
	if !FakeKeyPresent(req, cfg) {
		return nil, "missing-fake-key"
	}

	if enc := req.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return nil, "unsupported-encoding"
	}

	if RewriteEnabled(cfg, req.URL.Path) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, "body-read-error"
		}
		req.Body.Close()
		rewritten, err := RewriteAnthropicBody(body)
		if err != nil {
			p.logger.Error("egress: rewriting request body", "host", host, "error", err)
			return nil, "rewrite-error"
		}
		ApplyRewrittenBody(req, rewritten)
	}

	InjectKey(req, cfg)
	req.Header.Del("Proxy-Connection")

	req.URL.Scheme = "https"
	req.URL.Host = hostport
	resp, err := p.upstream.Do(req.WithContext(ctx))
	if err != nil {
		p.logger.Error("egress: upstream request failed", "host", host, "error", err)
		return nil, "upstream-error"
	}
	return resp, "allow"
}

func denyResponse(reason string) *http.Response {
	msg := fmt.Sprintf("egress: request denied: %s\n", reason)
	return &http.Response{
		StatusCode:    statusForVerdict(reason),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		ContentLength: int64(len(msg)),
		Body:          io.NopCloser(strings.NewReader(msg)),
	}
}

func statusForVerdict(reason string) int {
	switch reason {
	case "endpoint-denied":
		return http.StatusForbidden
	case "missing-fake-key":
		return http.StatusUnauthorized
	case "unsupported-encoding":
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadGateway
	}
}
