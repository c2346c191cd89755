package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/carecall/internal/model"
)

// Sessions is the admin login state the auth endpoints drive.
type Sessions interface {
	Login()
	Logout()
	IsAuthenticated() bool
	LogoutTriggered() bool
	Snapshot() model.SessionRecord
}

type AuthHandler struct {
	sessions     Sessions
	adminUser    string
	passwordHash []byte
	logger       *slog.Logger
}

func NewAuthHandler(s Sessions, adminUser string, passwordHash []byte, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:     s,
		adminUser:    adminUser,
		passwordHash: passwordHash,
		logger:       logger,
	}
}

type sessionView struct {
	Authenticated   bool       `json:"authenticated"`
	LoginTime       *time.Time `json:"login_time,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	ExpireTime      *time.Time `json:"expire_time,omitempty"`
	LogoutTriggered bool       `json:"logout_triggered"`
}

func (h *AuthHandler) view() sessionView {
	ok := h.sessions.IsAuthenticated()
	v := sessionView{Authenticated: ok, LogoutTriggered: h.sessions.LogoutTriggered()}
	if ok {
		rec := h.sessions.Snapshot()
		v.LoginTime = &rec.LoginTime
		v.LastActivity = &rec.LastActivity
		v.ExpireTime = &rec.ExpireTime
	}
	return v
}

// Login accepts either a JSON body or a form post with username and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	} else {
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	// Always run the hash comparison so a wrong username costs the same time.
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.adminUser)) == 1
	passErr := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger.Warn("login rejected", "username", req.Username)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":   "invalid username or password",
			"actions": []string{"login"},
		})
		return
	}

	h.sessions.Login()
	writeJSON(w, http.StatusOK, h.view())
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout()
	writeJSON(w, http.StatusOK, h.view())
}

// Session reports the login window and whether this process logged out.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}
