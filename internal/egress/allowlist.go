package egress

import (
	"strings"

	"github.com/ironcurtain/ironcurtain/pkg/models"
)

// Registry resolves a provider configuration by host.
type Registry struct {
	byHost map[string]models.ProviderConfig
}

// NewRegistry builds a Registry from the configured providers. Hosts are
// matched case-insensitively, generalizing the same normalize-then-compare
// idiom net/ssrf applies to SSRF hostname checks.
func NewRegistry(providers []models.ProviderConfig) *Registry {
	r := &Registry{byHost: map[string]models.ProviderConfig{}}
	for _, p := range providers {
		r.byHost[strings.ToLower(p.Host)] = p
	}
	return r
}

// Lookup returns the provider config for host, or false if host is not in
// the allowlist.
func (r *Registry) Lookup(host string) (models.ProviderConfig, bool) {
	p, ok := r.byHost[strings.ToLower(host)]
	return p, ok
}

// EndpointAllowed reports whether method+path matches one of the
// provider's allowedEndpoints, where a path segment of "*" matches exactly
// one `[^/]+` segment.
func EndpointAllowed(cfg models.ProviderConfig, method, path string) bool {
	for _, ep := range cfg.AllowedEndpoints {
		if !strings.EqualFold(ep.Method, method) {
			continue
		}
		if pathMatches(ep.Path, path) {
			return true
		}
	}
	return false
}

func pathMatches(pattern, path string) bool {
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if seg == "*" {
			if pathSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}

// RewriteEnabled reports whether endpointPath has body-rewrite configured
// for cfg.
func RewriteEnabled(cfg models.ProviderConfig, endpointPath string) bool {
	for _, ep := range cfg.RewriteEndpoints {
		if pathMatches(ep, endpointPath) {
			return true
		}
	}
	return false
}
