package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

// EntitlementLoader resolves the entitlement snapshot for a user, exactly
// once per connection attempt. High-frequency events never re-hit the
// store; the snapshot rides on the connection until reconnect.
type EntitlementLoader func(ctx context.Context, userID string) (entitlement.Snapshot, error)

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	jwt.RegisteredClaims
}

// NewAuthMiddleware validates the session cookie issued by the HTTP auth
// layer and loads the entitlement snapshot into the request metadata. A
// missing or invalid session fails the whole connection attempt.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret, cookieName string, loadEntitlement EntitlementLoader) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				logger.Warn("No session cookie attached to request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Parse and validate the JWT token with HMAC signing
			token, err := jwt.ParseWithClaims(cookie.Value, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("Invalid session token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok || claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ent, err := loadEntitlement(r.Context(), claims.Subject)
			if err != nil {
				logger.Warn("Entitlement lookup failed",
					slog.String("ip", reqMeta.IP),
					slog.String("userID", claims.Subject),
					slog.Any("error", err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Entitlement = ent
			next.ServeHTTP(w, r)
		})
	}
}
