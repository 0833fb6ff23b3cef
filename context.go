package authcore

import (
	"context"
	"net/http"
	"strings"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for rate limiting and audit provenance.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit
// provenance.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// ClientIP extracts the client address from a request: the first entry of
// X-Forwarded-For when present, otherwise the transport remote address
// with its port stripped.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := forwarded
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			first = forwarded[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i >= 0 && !strings.HasSuffix(addr, "]") {
		addr = addr[:i]
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
