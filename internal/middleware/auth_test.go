package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/carecall/internal/auth"
	"github.com/dukerupert/carecall/internal/model"
)

type fakeAuth struct {
	ok  bool
	rec model.SessionRecord
}

func (f fakeAuth) IsAuthenticated() bool         { return f.ok }
func (f fakeAuth) Snapshot() model.SessionRecord { return f.rec }

func TestRequireAuthRejectsAPIRequest(t *testing.T) {
	handler := RequireAuth(fakeAuth{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("POST", "/api/call/start", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body struct {
		Error   string   `json:"error"`
		Actions []string `json:"actions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Actions) != 1 || body.Actions[0] != "login" {
		t.Errorf("actions = %v, want [login]", body.Actions)
	}
}

func TestRequireAuthRedirectsBrowser(t *testing.T) {
	handler := RequireAuth(fakeAuth{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want %q", loc, "/login")
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	login := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	a := fakeAuth{ok: true, rec: model.SessionRecord{
		Authenticated: true,
		LoginTime:     login,
		LastActivity:  login.Add(time.Minute),
		ExpireTime:    login.Add(8 * time.Hour),
	}}

	var gotAC auth.AuthContext
	handler := RequireAuth(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		gotAC = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/call", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !gotAC.LoginTime.Equal(login) {
		t.Errorf("LoginTime = %v, want %v", gotAC.LoginTime, login)
	}
	if !gotAC.ExpiresAt.Equal(login.Add(8 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", gotAC.ExpiresAt)
	}
}
