package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/carecall/internal/auth"
	"github.com/dukerupert/carecall/internal/call"
	"github.com/dukerupert/carecall/internal/logging"
	"github.com/dukerupert/carecall/internal/model"
	"github.com/dukerupert/carecall/internal/signaling"
)

type CallHandler struct {
	ctrl   *call.Controller
	logger *slog.Logger
}

func NewCallHandler(ctrl *call.Controller, logger *slog.Logger) *CallHandler {
	return &CallHandler{ctrl: ctrl, logger: logger}
}

type pollView struct {
	Deadline         *time.Time `json:"deadline,omitempty"`
	NextPollAt       *time.Time `json:"next_poll_at,omitempty"`
	IntervalSeconds  int64      `json:"interval_seconds"`
	Attempts         int        `json:"attempts"`
	AwaitingDecision bool       `json:"awaiting_decision"`
}

type callView struct {
	Status          model.CallStatus            `json:"status"`
	Callee          *model.Callee               `json:"callee,omitempty"`
	RoomName        string                      `json:"room_name,omitempty"`
	Transport       *model.TransportCredentials `json:"transport,omitempty"`
	StartedAt       *time.Time                  `json:"started_at,omitempty"`
	EndedAt         *time.Time                  `json:"ended_at,omitempty"`
	DurationSeconds int64                       `json:"duration_seconds"`
	Poll            *pollView                   `json:"poll,omitempty"`
	Analysis        *model.Analysis             `json:"analysis,omitempty"`
	CallLogID       model.ID                    `json:"call_log_id,omitempty"`
	LastError       string                      `json:"last_error,omitempty"`
	Actions         []call.Action               `json:"actions"`
	Generation      int64                       `json:"generation"`

	// SessionRemainingSeconds is how long the admin login that made this
	// request has left.
	SessionRemainingSeconds int64 `json:"session_remaining_seconds"`
}

func (h *CallHandler) view(ctx context.Context, cs model.CallSession) callView {
	now := h.ctrl.Now()
	v := callView{
		Status:          cs.Status,
		Callee:          cs.Callee,
		RoomName:        cs.RoomName,
		StartedAt:       cs.StartedAt,
		EndedAt:         cs.EndedAt,
		DurationSeconds: int64(call.Duration(cs, now) / time.Second),
		Analysis:        cs.Analysis,
		CallLogID:       cs.CallLogID,
		LastError:       cs.LastError,
		Actions:         call.Actions(cs),
		Generation:      cs.Generation,

		SessionRemainingSeconds: int64(auth.Remaining(ctx, now) / time.Second),
	}
	if cs.Status == model.CallConnected {
		v.Transport = cs.Transport
	}
	if cs.Status == model.CallEnded {
		v.Poll = &pollView{
			Deadline:         cs.PollDeadline,
			NextPollAt:       cs.NextPollAt,
			IntervalSeconds:  int64(h.ctrl.Policy().PollInterval / time.Second),
			Attempts:         cs.PollAttempts,
			AwaitingDecision: cs.AwaitingDecision,
		}
	}
	return v
}

// writeCall renders the session, translating err into a status and a set of
// actions the operator can take from here.
func (h *CallHandler) writeCall(w http.ResponseWriter, r *http.Request, cs model.CallSession, err error) {
	v := h.view(r.Context(), cs)
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}

	status := http.StatusInternalServerError
	msg := err.Error()
	var backendErr *signaling.BackendError
	var transErr *call.TransitionError
	switch {
	case errors.Is(err, call.ErrSummaryTimeout):
		// Not a failure: the operator decides whether to keep waiting.
		writeJSON(w, http.StatusOK, v)
		return
	case errors.Is(err, signaling.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
		msg = "call backend is unavailable"
	case errors.As(err, &backendErr):
		status = http.StatusBadGateway
	case errors.As(err, &transErr):
		status = http.StatusConflict
		msg = "action not allowed while " + string(transErr.From)
	case errors.Is(err, call.ErrSuperseded), errors.Is(err, call.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, call.ErrNoCallee):
		status = http.StatusBadRequest
	case errors.Is(err, call.ErrIncompleteEvent):
		status = http.StatusBadRequest
	}

	if status >= 500 {
		logging.FromContext(r.Context(), h.logger).Error("call action failed", "status", cs.Status, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error":   msg,
		"actions": v.Actions,
		"call":    v,
	})
}

func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view(r.Context(), h.ctrl.State()))
}

func (h *CallHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      model.ID `json:"id"`
		Name    string   `json:"name"`
		Persona string   `json:"persona"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and name are required"})
		return
	}

	cs, err := h.ctrl.Select(r.Context(), model.Callee{
		ID:      req.ID,
		Name:    req.Name,
		Persona: strings.TrimSpace(req.Persona),
	})
	h.writeCall(w, r, cs, err)
}

func (h *CallHandler) Start(w http.ResponseWriter, r *http.Request) {
	cs, err := h.ctrl.Start(r.Context())
	h.writeCall(w, r, cs, err)
}

func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	cs, err := h.ctrl.End(r.Context())
	h.writeCall(w, r, cs, err)
}

// Tick runs a summary poll if one is due. The browser calls it on the poll
// interval while the call is ended.
func (h *CallHandler) Tick(w http.ResponseWriter, r *http.Request) {
	cs, err := h.ctrl.Tick(r.Context())
	h.writeCall(w, r, cs, err)
}

func (h *CallHandler) KeepWaiting(w http.ResponseWriter, r *http.Request) {
	cs, err := h.ctrl.KeepWaiting(r.Context())
	h.writeCall(w, r, cs, err)
}

func (h *CallHandler) Skip(w http.ResponseWriter, r *http.Request) {
	cs, err := h.ctrl.Skip(r.Context())
	h.writeCall(w, r, cs, err)
}

// Submit takes the operator-reviewed analysis. Omitted fields fall back to
// the retrieved analysis.
func (h *CallHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary      *string   `json:"summary"`
		Mood         *string   `json:"mood"`
		Topics       *[]string `json:"topics"`
		NewFollowups *[]string `json:"new_followups"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}

	var reviewed model.Analysis
	if a := h.ctrl.State().Analysis; a != nil {
		reviewed = *a
	}
	if req.Summary != nil {
		reviewed.Summary = *req.Summary
	}
	if req.Mood != nil {
		reviewed.Mood = model.Mood(strings.ToLower(strings.TrimSpace(*req.Mood)))
	}
	if req.Topics != nil {
		reviewed.Topics = *req.Topics
	}
	if req.NewFollowups != nil {
		reviewed.NewFollowups = *req.NewFollowups
	}

	res, err := h.ctrl.Submit(r.Context(), reviewed)
	if err != nil {
		h.writeCall(w, r, res.Session, err)
		return
	}

	followups := res.PendingFollowups
	if followups == nil {
		followups = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call":              h.view(r.Context(), res.Session),
		"memory_updated":    res.MemoryUpdated,
		"pending_followups": followups,
	})
}
