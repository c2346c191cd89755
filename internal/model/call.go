package model

import (
	"fmt"
	"time"
)

// CallStatus is the lifecycle position of the active call session.
type CallStatus string

const (
	CallNotConnected     CallStatus = "not_connected"
	CallConnected        CallStatus = "connected"
	CallEnded            CallStatus = "ended"
	CallSummaryRetrieved CallStatus = "summary_retrieved"
)

// Mood is the normalised emotional tone of a call.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodNeutral Mood = "neutral"
	MoodSad     Mood = "sad"
)

// DefaultPersona is used when the selected user has no persona configured.
const DefaultPersona = "Friendly"

// Callee is the user record selected for calling.
type Callee struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

// TransportCredentials let the browser join the real-time room.
type TransportCredentials struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// Analysis is the reviewable outcome of a call.
type Analysis struct {
	Summary      string   `json:"summary"`
	Mood         Mood     `json:"mood"`
	Topics       []string `json:"topics"`
	NewFollowups []string `json:"new_followups"`
}

// CallSession carries everything needed to resume the call console between
// ticks. An empty RoomName means no room is bound.
type CallSession struct {
	Status           CallStatus            `json:"status"`
	Callee           *Callee               `json:"callee,omitempty"`
	RoomName         string                `json:"room_name,omitempty"`
	Transport        *TransportCredentials `json:"transport,omitempty"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	EndedAt          *time.Time            `json:"ended_at,omitempty"`
	PollDeadline     *time.Time            `json:"poll_deadline,omitempty"`
	NextPollAt       *time.Time            `json:"next_poll_at,omitempty"`
	PollAttempts     int                   `json:"poll_attempts"`
	AwaitingDecision bool                  `json:"awaiting_decision"`
	Analysis         *Analysis             `json:"analysis,omitempty"`
	CallLogID        ID                    `json:"call_log_id,omitempty"`
	LastError        string                `json:"last_error,omitempty"`
	Generation       int64                 `json:"generation"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// NewCallSession returns an idle session with no callee selected.
func NewCallSession() CallSession {
	return CallSession{Status: CallNotConnected}
}

// Validate checks the field/status coupling every persisted session must satisfy.
func (s CallSession) Validate() error {
	connected := s.Status == CallConnected
	if (s.Transport != nil) != connected {
		return fmt.Errorf("transport credentials present=%t in status %s", s.Transport != nil, s.Status)
	}
	roomBound := s.Status == CallConnected || s.Status == CallEnded
	if (s.RoomName != "") != roomBound {
		return fmt.Errorf("room name present=%t in status %s", s.RoomName != "", s.Status)
	}
	if (s.Analysis != nil) != (s.Status == CallSummaryRetrieved) {
		return fmt.Errorf("analysis present=%t in status %s", s.Analysis != nil, s.Status)
	}
	if (s.PollDeadline != nil) != (s.Status == CallEnded) {
		return fmt.Errorf("poll deadline present=%t in status %s", s.PollDeadline != nil, s.Status)
	}
	switch s.Status {
	case CallNotConnected, CallConnected, CallEnded, CallSummaryRetrieved:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}
	return nil
}

// CallLogEntry is a row of the backend's call log. It is never mutated locally.
type CallLogEntry struct {
	ID           ID         `json:"id"`
	UserID       ID         `json:"user_id"`
	RoomName     string     `json:"room_name"`
	StartTime    Timestamp  `json:"start_time"`
	EndTime      Timestamp  `json:"end_time"`
	Summary      string     `json:"summary,omitempty"`
	Mood         string     `json:"mood,omitempty"`
	Topics       StringList `json:"topics,omitempty"`
	NewFollowups StringList `json:"new_followups,omitempty"`
}
