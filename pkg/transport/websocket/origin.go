package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/relay/internal/logging"
)

// originPolicy decides which browser origins may open a connection
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *logging.Logger
}

func newOriginPolicy(origins []string, logger *logging.Logger) *originPolicy {
	p := &originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}

	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// check is an Upgrader.CheckOrigin. Requests without an Origin header only
// pass when every origin is allowed.
func (p *originPolicy) check(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	header := r.Header.Get("Origin")
	if normalized, ok := normalizeOrigin(header); ok {
		if _, exists := p.allowed[normalized]; exists {
			return true
		}
	}

	p.logger.Warn("blocked websocket connection from disallowed origin",
		"origin", header,
		"remote_addr", r.RemoteAddr,
	)
	return false
}
