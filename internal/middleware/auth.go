package middleware

import (
	"net/http"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
)

// AuthMiddleware resolves the caller with resolver and stores the user id in
// the request context. Unresolvable requests get 401.
func AuthMiddleware(resolver auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := resolver.Resolve(r)
			if err != nil {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid or missing credentials")
				return
			}
			ctx := auth.ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
