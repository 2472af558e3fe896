package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the authenticated user set by the middleware.
func UserFromContext(ctx context.Context) (*identityDomain.User, bool) {
	user, ok := ctx.Value(userContextKey).(*identityDomain.User)
	return user, ok
}

// AuthMiddleware resolves the caller's account and enforces the admin
// policy. Session verification itself happens upstream (the edge proxy
// forwards the verified user id in X-User-ID); this layer owns
// authorization, not authentication.
type AuthMiddleware struct {
	users  identityDomain.UserRepository
	logger *slog.Logger
}

func NewAuthMiddleware(users identityDomain.UserRepository, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{users: users, logger: logger}
}

// RequireUser loads the account for the forwarded user id and rejects the
// request when none exists.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.resolve(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// RequireAdmin additionally enforces the admin role.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.resolve(w, r)
		if !ok {
			return
		}
		if !user.Role.IsAdmin() {
			m.logger.Warn("admin endpoint denied", "user_id", user.ID, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func (m *AuthMiddleware) resolve(w http.ResponseWriter, r *http.Request) (*identityDomain.User, bool) {
	rawID := r.Header.Get("X-User-ID")
	if rawID == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid user id")
		return nil, false
	}

	user, err := m.users.FindByID(r.Context(), userID)
	if err != nil {
		m.logger.Error("failed to load user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to authenticate")
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unknown user")
		return nil, false
	}

	return user, true
}

// RateLimiter applies a per-user token bucket to the client surface.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Limit rejects requests exceeding the caller's budget. It must run after
// RequireUser so the user is in context.
func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !l.limiterFor(user.ID).Allow() {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiterFor(userID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter
}
