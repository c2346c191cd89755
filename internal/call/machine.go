// Package call drives a single console call from callee selection through
// the live call, summary retrieval and review.
//
// The lifecycle is a small state machine over model.CallSession. Apply is the
// pure transition function; Controller wraps it with the backend calls, the
// durable session record and change notifications.
package call

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/carecall/internal/model"
)

// Policy holds the timing knobs of the lifecycle.
type Policy struct {
	// PollWindow is how long after the call ends a summary is expected.
	PollWindow time.Duration
	// PollGrace is tolerated lateness past PollWindow before the operator
	// is asked to keep waiting or skip.
	PollGrace time.Duration
	// PollInterval spaces consecutive call log queries.
	PollInterval time.Duration

	// RetryAttempts and RetryDelay bound the quick retries of best-effort
	// backend calls (stop call, memory update).
	RetryAttempts uint64
	RetryDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PollWindow:    60 * time.Second,
		PollGrace:     30 * time.Second,
		PollInterval:  3 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.PollWindow <= 0 {
		p.PollWindow = d.PollWindow
	}
	if p.PollGrace < 0 {
		p.PollGrace = 0
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = d.RetryDelay
	}
	return p
}

type EventKind string

const (
	EventSelected       EventKind = "selected"
	EventStarted        EventKind = "started"
	EventStartFailed    EventKind = "start_failed"
	EventEnded          EventKind = "ended"
	EventSummaryFound   EventKind = "summary_found"
	EventSummaryPending EventKind = "summary_pending"
	EventPollFailed     EventKind = "poll_failed"
	EventKeepWaiting    EventKind = "keep_waiting"
	EventSkipped        EventKind = "skipped"
	EventSubmitted      EventKind = "submitted"
)

// Event is an input to Apply. Only the fields relevant to Kind are read.
type Event struct {
	Kind EventKind

	Callee    *model.Callee               // Selected
	Room      string                      // Started, SummaryFound
	Transport *model.TransportCredentials // Started
	Analysis  *model.Analysis             // SummaryFound
	CallLogID model.ID                    // SummaryFound
	Err       error                       // StartFailed, PollFailed
}

var (
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrNoCallee          = errors.New("no callee selected")
	ErrStaleSummary      = errors.New("summary belongs to a different room")
	ErrSummaryTimeout    = errors.New("summary not available before the deadline")
	ErrIncompleteEvent   = errors.New("incomplete call event")
)

// TransitionError reports an event that has no edge from the current status.
type TransitionError struct {
	From  model.CallStatus
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s from %s", ErrInvalidTransition, e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// edges lists the events accepted in each status.
var edges = map[model.CallStatus][]EventKind{
	model.CallNotConnected:     {EventSelected, EventStarted, EventStartFailed},
	model.CallConnected:        {EventEnded},
	model.CallEnded:            {EventSummaryFound, EventSummaryPending, EventPollFailed, EventKeepWaiting, EventSkipped},
	model.CallSummaryRetrieved: {EventSubmitted, EventSkipped},
}

// Allowed reports whether kind is accepted in status.
func Allowed(status model.CallStatus, kind EventKind) bool {
	for _, k := range edges[status] {
		if k == kind {
			return true
		}
	}
	return false
}

// Apply returns the session that results from ev at now. s is never modified.
// Every accepted event advances Generation.
func Apply(s model.CallSession, ev Event, now time.Time, p Policy) (model.CallSession, error) {
	if !Allowed(s.Status, ev.Kind) {
		return s, &TransitionError{From: s.Status, Event: ev.Kind}
	}
	p = p.withDefaults()
	now = now.UTC()
	next := s

	switch ev.Kind {
	case EventSelected:
		if ev.Callee == nil || ev.Callee.ID == "" {
			return s, fmt.Errorf("%w: callee id is required", ErrIncompleteEvent)
		}
		callee := *ev.Callee
		callee.Name = strings.TrimSpace(callee.Name)
		if strings.TrimSpace(callee.Persona) == "" {
			callee.Persona = model.DefaultPersona
		}
		next.Callee = &callee
		next.LastError = ""

	case EventStarted:
		if s.Callee == nil {
			return s, ErrNoCallee
		}
		if ev.Room == "" || ev.Transport == nil {
			return s, fmt.Errorf("%w: room and transport are required", ErrIncompleteEvent)
		}
		transport := *ev.Transport
		next.Status = model.CallConnected
		next.RoomName = ev.Room
		next.Transport = &transport
		next.StartedAt = &now
		next.EndedAt = nil
		next.LastError = ""

	case EventStartFailed:
		next.LastError = errText(ev.Err)

	case EventEnded:
		deadline := now.Add(p.PollWindow)
		next.Status = model.CallEnded
		next.Transport = nil
		next.EndedAt = &now
		next.PollDeadline = &deadline
		next.NextPollAt = &now
		next.PollAttempts = 0
		next.AwaitingDecision = false
		next.LastError = ""

	case EventSummaryFound:
		if ev.Room != s.RoomName {
			return s, fmt.Errorf("%w: got %q, want %q", ErrStaleSummary, ev.Room, s.RoomName)
		}
		if ev.Analysis == nil {
			return s, fmt.Errorf("%w: analysis is required", ErrIncompleteEvent)
		}
		analysis := *ev.Analysis
		next.Status = model.CallSummaryRetrieved
		next.Analysis = &analysis
		next.CallLogID = ev.CallLogID
		next.RoomName = ""
		next.PollDeadline = nil
		next.NextPollAt = nil
		next.AwaitingDecision = false
		next.LastError = ""

	case EventSummaryPending, EventPollFailed:
		next.PollAttempts++
		if ev.Kind == EventPollFailed {
			next.LastError = errText(ev.Err)
		} else {
			next.LastError = ""
		}
		if s.PollDeadline != nil && !now.Before(s.PollDeadline.Add(p.PollGrace)) {
			next.AwaitingDecision = true
			next.NextPollAt = nil
		} else {
			at := now.Add(p.PollInterval)
			next.NextPollAt = &at
		}

	case EventKeepWaiting:
		deadline := now.Add(p.PollWindow)
		next.PollDeadline = &deadline
		next.NextPollAt = &now
		next.PollAttempts = 0
		next.AwaitingDecision = false
		next.LastError = ""

	case EventSkipped, EventSubmitted:
		next = model.NewCallSession()
	}

	next.Generation = s.Generation + 1
	next.UpdatedAt = now
	if err := next.Validate(); err != nil {
		return s, fmt.Errorf("apply %s: %w", ev.Kind, err)
	}
	return next, nil
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// Action names an operator command available in the current state.
type Action string

const (
	ActionSelect      Action = "select"
	ActionStart       Action = "start"
	ActionRetry       Action = "retry"
	ActionEnd         Action = "end"
	ActionWait        Action = "wait"
	ActionKeepWaiting Action = "keep-waiting"
	ActionSkip        Action = "skip"
	ActionSubmit      Action = "submit"
)

// Actions lists what the operator can do next. It is never empty.
func Actions(s model.CallSession) []Action {
	switch s.Status {
	case model.CallNotConnected:
		if s.Callee == nil {
			return []Action{ActionSelect}
		}
		if s.LastError != "" {
			return []Action{ActionRetry, ActionSelect}
		}
		return []Action{ActionStart, ActionSelect}
	case model.CallConnected:
		return []Action{ActionEnd}
	case model.CallEnded:
		if s.AwaitingDecision {
			return []Action{ActionKeepWaiting, ActionSkip}
		}
		return []Action{ActionWait, ActionSkip}
	case model.CallSummaryRetrieved:
		return []Action{ActionSubmit, ActionSkip}
	}
	return []Action{ActionSkip}
}

// Duration is the elapsed call time: running while connected, fixed once ended.
func Duration(s model.CallSession, now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if d := end.Sub(*s.StartedAt); d > 0 {
		return d
	}
	return 0
}
