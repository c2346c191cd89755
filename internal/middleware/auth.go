package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/carecall/internal/auth"
	"github.com/dukerupert/carecall/internal/model"
)

// Authenticator answers whether the dashboard session is live.
type Authenticator interface {
	IsAuthenticated() bool
	Snapshot() model.SessionRecord
}

// RequireAuth admits requests only while the admin session is valid and
// populates AuthContext. Browser navigations are redirected to /login; API
// calls get a JSON 401.
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.IsAuthenticated() {
				rejectUnauthenticated(w, r)
				return
			}

			rec := a.Snapshot()
			ac := auth.AuthContext{
				LoginTime:    rec.LoginTime,
				LastActivity: rec.LastActivity,
				ExpiresAt:    rec.ExpireTime,
			}
			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   "not authenticated",
		"actions": []string{"login"},
	})
}
