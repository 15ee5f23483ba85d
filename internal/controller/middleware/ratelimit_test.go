package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridplane/internal/store"

	"github.com/google/uuid"
)

func limitedProject(limit, burst int) *store.Project {
	return &store.Project{
		ID:             uuid.New(),
		Name:           "simulator",
		RateLimit:      limit,
		RateLimitBurst: burst,
		CreatedAt:      time.Now().UTC(),
	}
}

// limitedHandler wraps a trivial handler once; the limiter cache lives per
// wrapped handler, so tests must reuse the same one across requests.
func limitedHandler(mw func(http.Handler) http.Handler) http.Handler {
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func serveAs(t *testing.T, handler http.Handler, project *store.Project) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if project != nil {
		req = req.WithContext(WithProject(req.Context(), project))
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitMiddleware_NoProjectInContext(t *testing.T) {
	mw := RateLimitMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without an authenticated project")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	handler := limitedHandler(RateLimitMiddleware())
	project := limitedProject(10, 3)

	for i := 0; i < 3; i++ {
		if rr := serveAs(t, handler, project); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, rr.Code)
		}
	}
}

func TestRateLimitMiddleware_RejectsBeyondBurst(t *testing.T) {
	handler := limitedHandler(RateLimitMiddleware())
	project := limitedProject(1, 2)

	for i := 0; i < 2; i++ {
		if rr := serveAs(t, handler, project); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, rr.Code)
		}
	}

	rr := serveAs(t, handler, project)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestRateLimitMiddleware_ZeroMeansUnlimited(t *testing.T) {
	handler := limitedHandler(RateLimitMiddleware())
	project := limitedProject(0, 0)

	for i := 0; i < 50; i++ {
		if rr := serveAs(t, handler, project); rr.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200", i, rr.Code)
		}
	}
}

func TestRateLimitMiddleware_ProjectsDoNotShareBudgets(t *testing.T) {
	handler := limitedHandler(RateLimitMiddleware())
	first := limitedProject(1, 1)
	second := limitedProject(1, 1)

	if rr := serveAs(t, handler, first); rr.Code != http.StatusOK {
		t.Fatalf("first project: got status %d, want 200", rr.Code)
	}
	if rr := serveAs(t, handler, first); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("first project second call: got status %d, want 429", rr.Code)
	}
	if rr := serveAs(t, handler, second); rr.Code != http.StatusOK {
		t.Errorf("second project should have its own budget, got %d", rr.Code)
	}
}
