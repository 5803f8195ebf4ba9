package egress

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// The upstream dialer refuses to connect to loopback, private, link-local,
// multicast, or unspecified addresses. The provider allowlist already pins
// hostnames, but a poisoned DNS answer could point an allowlisted name at
// the host's own loopback or an internal service; checking the resolved
// address at dial time closes that hole.

// ErrBlockedAddress is wrapped into dial errors for guarded targets.
var ErrBlockedAddress = fmt.Errorf("egress: destination address is not publicly routable")

// normalizeHost lowercases, trims, strips a trailing dot, and unwraps
// IPv6 brackets.
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

// blockedAddr reports whether addr must never be an egress target.
func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

// checkHostPort rejects host:port targets that parse to a blocked IP
// literal; hostnames pass here and are checked post-resolution by the
// guarded dialer.
func checkHostPort(hostport string) error {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	host = normalizeHost(host)
	if addr, err := netip.ParseAddr(host); err == nil && blockedAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// guardedDialContext resolves the target and dials only addresses that
// blockedAddr accepts.
func guardedDialContext(ctx context.Context, network, hostport string) (net.Conn, error) {
	if err := checkHostPort(hostport); err != nil {
		return nil, err
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("egress: splitting dial target %q: %w", hostport, err)
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", normalizeHost(host))
	if err != nil {
		return nil, fmt.Errorf("egress: resolving %s: %w", host, err)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var lastErr error
	for _, ip := range ips {
		if blockedAddr(ip) {
			lastErr = fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, ip)
			continue
		}
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.Unmap().String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("egress: no addresses for %s", host)
	}
	return nil, lastErr
}
