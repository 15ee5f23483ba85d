// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"gridplane/internal/auth"
	"gridplane/internal/store"
	"gridplane/pkg/api"
)

// projectKey is the context key for the authenticated project.
type projectKey struct{}

// AuthMiddleware validates the project API key on the Authorization header
// and stores the resolved project in the request context. Every public
// operation is scoped by project.
func AuthMiddleware(projects store.ProjectStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			// Only the hash ever touches the database.
			project, err := projects.GetProjectByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil || project == nil {
				unauthorized(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), projectKey{}, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProjectFromContext extracts the authenticated project from the context.
func ProjectFromContext(ctx context.Context) (*store.Project, bool) {
	project, ok := ctx.Value(projectKey{}).(*store.Project)
	return project, ok
}

// WithProject returns a context carrying the given project. Test helper.
func WithProject(ctx context.Context, project *store.Project) context.Context {
	return context.WithValue(ctx, projectKey{}, project)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  "401",
	})
}
