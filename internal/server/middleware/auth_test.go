package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/helenkilolo/afrovibe/internal/server/middleware"
	"github.com/helenkilolo/afrovibe/pkg/config"
	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

func configLimit(max int, mode string) config.ConnectionLimitConfig {
	return config.ConnectionLimitConfig{MaxPerUser: max, Mode: mode}
}

const testSecret = "test-secret"
const testCookie = "session-token"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func signToken(t *testing.T, subject string, secret string) string {
	t.Helper()
	claims := middleware.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}
	return token
}

// authedRequest runs a request through metadata+auth and reports the final
// handler's observed metadata, if it was reached.
func authedRequest(t *testing.T, cookie *http.Cookie, loader middleware.EntitlementLoader) (*httptest.ResponseRecorder, *middleware.RequestMetadata) {
	t.Helper()
	var seen *middleware.RequestMetadata
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.ReqMetadataFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	h := middleware.Chain(final,
		middleware.RequestMetadataMiddleware(),
		middleware.NewAuthMiddleware(newTestLogger(), testSecret, testCookie, loader),
	)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func allowAll(_ context.Context, _ string) (entitlement.Snapshot, error) {
	return entitlement.NewSnapshot(entitlement.PlanElite, false), nil
}

func TestAuthAcceptsValidToken(t *testing.T) {
	userID := uuid.NewString()
	cookie := &http.Cookie{Name: testCookie, Value: signToken(t, userID, testSecret)}

	rec, seen := authedRequest(t, cookie, allowAll)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.UserID != userID {
		t.Fatalf("Expected metadata userID %s, got %+v", userID, seen)
	}
	if !seen.Entitlement.CanVideoChat {
		t.Error("Expected the loaded entitlement snapshot on the metadata")
	}
}

func TestAuthRejectsMissingCookie(t *testing.T) {
	rec, seen := authedRequest(t, nil, allowAll)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if seen != nil {
		t.Error("Handler must not run without a session")
	}
}

func TestAuthRejectsBadSignature(t *testing.T) {
	cookie := &http.Cookie{Name: testCookie, Value: signToken(t, uuid.NewString(), "wrong-secret")}
	rec, _ := authedRequest(t, cookie, allowAll)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for forged token, got %d", rec.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	claims := middleware.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	value, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	rec, _ := authedRequest(t, &http.Cookie{Name: testCookie, Value: value}, allowAll)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for expired token, got %d", rec.Code)
	}
}

func TestAuthRejectsWhenEntitlementLookupFails(t *testing.T) {
	cookie := &http.Cookie{Name: testCookie, Value: signToken(t, uuid.NewString(), testSecret)}
	failing := func(context.Context, string) (entitlement.Snapshot, error) {
		return entitlement.Snapshot{}, errors.New("user gone")
	}
	rec, _ := authedRequest(t, cookie, failing)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 when the snapshot cannot be loaded, got %d", rec.Code)
	}
}

func TestConnectionLimiterModes(t *testing.T) {
	count := 2
	counter := func(string) int { return count }
	var cycled []string
	cycler := func(userID string) { cycled = append(cycled, userID) }

	run := func(mode string, max int) *httptest.ResponseRecorder {
		final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		userID := uuid.NewString()
		cookie := &http.Cookie{Name: testCookie, Value: signToken(t, userID, testSecret)}
		h := middleware.Chain(final,
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(newTestLogger(), testSecret, testCookie, allowAll),
			middleware.NewConnectionLimiter(newTestLogger(), counter, cycler, configLimit(max, mode)),
		)
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := run("reject", 2); rec.Code != http.StatusTooManyRequests {
		t.Errorf("reject mode at the limit: expected 429, got %d", rec.Code)
	}
	if rec := run("cycle", 2); rec.Code != http.StatusOK {
		t.Errorf("cycle mode at the limit: expected 200, got %d", rec.Code)
	}
	if len(cycled) != 1 {
		t.Errorf("cycle mode should have evicted once, got %d", len(cycled))
	}
	if rec := run("reject", 3); rec.Code != http.StatusOK {
		t.Errorf("under the limit: expected 200, got %d", rec.Code)
	}
	if rec := run("reject", 0); rec.Code != http.StatusOK {
		t.Errorf("limit disabled: expected 200, got %d", rec.Code)
	}
}
