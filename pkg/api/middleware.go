package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidestore/tidestore/internal/logger"
	"github.com/tidestore/tidestore/pkg/auth"
	"github.com/tidestore/tidestore/pkg/errs"
	"github.com/tidestore/tidestore/pkg/ratelimit"
)

type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal, or nil for
// anonymous requests.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return p
}

// extractBearerToken pulls the token out of a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// requestLogger logs request start at debug and completion at info.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

// authenticate resolves an optional Bearer token into a principal. Requests
// without a token pass through anonymous; requests with a bad token are
// rejected.
func authenticate(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := svc.Verify(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAuth rejects anonymous requests. Must run after authenticate.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			writeError(w, r, errs.Authentication("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's client address without the port. RealIP
// middleware has already resolved forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// blockAbusers rejects requests from IPs the abuse gate has blocked.
func blockAbusers(gate *ratelimit.AbuseGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate.Blocked(r.Context(), clientIP(r)) {
				writeError(w, r, ratelimit.BlockedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit enforces the sliding-window budget for one request type. The
// window is keyed by user for authenticated requests and by IP otherwise;
// the budget tier follows the principal's role.
func rateLimit(limiter *ratelimit.Limiter, t ratelimit.Type) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ratelimit.IPIdentifier(clientIP(r))
			tier := ratelimit.TierAnonymous
			if p := PrincipalFromContext(r.Context()); p != nil {
				identifier = ratelimit.UserIdentifier(p.UserID)
				tier = string(p.Role)
			}

			decision, err := limiter.Check(r.Context(), t, identifier, tier)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", formatSeconds(decision.RetryAfter))
				writeError(w, r, ratelimit.RateLimitError(decision))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func formatSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
