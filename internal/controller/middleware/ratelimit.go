package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gridplane/internal/store"
	"gridplane/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles public API calls per project. It must run
// after AuthMiddleware so the project is already on the context.
func RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // projectID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			project, ok := ProjectFromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Unauthorized",
					Code:  "401",
				})
				return
			}

			// RateLimit=0 means unlimited
			if project.RateLimit > 0 {
				limiter := getOrCreateLimiter(&limiters, project, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, project *store.Project, ttl time.Duration) *rate.Limiter {
	if limiter, ok := limiters.Load(project.ID); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(
		rate.Limit(project.RateLimit),
		project.RateLimitBurst,
	)
	limiters.Store(project.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
