package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata accumulates what the chain learns about a request: the
// metadata middleware fills the IP, the auth middleware fills identity and
// the entitlement snapshot.
type RequestMetadata struct {
	IP          string
	UserID      string
	Entitlement entitlement.Snapshot
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware creates and injects the RequestMetadata struct.
// It must be the first middleware in the chain.
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback
			}
			reqMeta.IP = ip
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
