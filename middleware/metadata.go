package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	authcore "github.com/nur2097/template-project-sub000"
)

// CorrelationHeader carries the request correlation id in and out.
const CorrelationHeader = "X-Request-ID"

// MetadataOptions controls how the client address is derived.
type MetadataOptions struct {
	// TrustForwarded takes the first X-Forwarded-For hop. Enable only behind
	// a proxy that overwrites the header.
	TrustForwarded bool
}

// RequestMetadata attaches client IP, User-Agent and correlation id to the
// request context. A missing correlation id is generated.
func RequestMetadata(opts MetadataOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(CorrelationHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(CorrelationHeader, id)

			ctx := authcore.WithClientIP(r.Context(), ClientIP(r, opts.TrustForwarded))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			ctx = authcore.WithCorrelationID(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the caller address without the port.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
