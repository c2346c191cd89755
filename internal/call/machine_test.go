package call

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dukerupert/carecall/internal/model"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

var allEvents = []EventKind{
	EventSelected, EventStarted, EventStartFailed, EventEnded,
	EventSummaryFound, EventSummaryPending, EventPollFailed,
	EventKeepWaiting, EventSkipped, EventSubmitted,
}

// legal lists every status change the lifecycle allows.
var legal = map[[2]model.CallStatus]bool{
	{model.CallNotConnected, model.CallNotConnected}:     true,
	{model.CallNotConnected, model.CallConnected}:        true,
	{model.CallConnected, model.CallEnded}:               true,
	{model.CallEnded, model.CallEnded}:                   true,
	{model.CallEnded, model.CallSummaryRetrieved}:        true,
	{model.CallEnded, model.CallNotConnected}:            true,
	{model.CallSummaryRetrieved, model.CallNotConnected}: true,
}

func completeEvent(kind EventKind) Event {
	switch kind {
	case EventSelected:
		return Event{Kind: kind, Callee: &model.Callee{ID: "7", Name: "Margaret"}}
	case EventStarted:
		return Event{Kind: kind, Room: "room-42", Transport: &model.TransportCredentials{Endpoint: "wss://lk", Token: "tok"}}
	case EventStartFailed, EventPollFailed:
		return Event{Kind: kind, Err: errors.New("connection refused")}
	case EventSummaryFound:
		return Event{
			Kind:      kind,
			Room:      "room-42",
			Analysis:  &model.Analysis{Summary: "Talked about roses.", Mood: model.MoodHappy, Topics: []string{"roses"}},
			CallLogID: "12",
		}
	}
	return Event{Kind: kind}
}

// mustApply drives s through kinds, failing the test on any error.
func mustApply(t *testing.T, s model.CallSession, now time.Time, kinds ...EventKind) model.CallSession {
	t.Helper()
	for _, k := range kinds {
		var err error
		s, err = Apply(s, completeEvent(k), now, DefaultPolicy())
		if err != nil {
			t.Fatalf("apply %s: %v", k, err)
		}
	}
	return s
}

func fixtures(t *testing.T) map[model.CallStatus]model.CallSession {
	t.Helper()
	idle := model.NewCallSession()
	selected := mustApply(t, idle, t0, EventSelected)
	connected := mustApply(t, selected, t0, EventStarted)
	ended := mustApply(t, connected, t0.Add(5*time.Minute), EventEnded)
	retrieved := mustApply(t, ended, t0.Add(5*time.Minute), EventSummaryFound)
	return map[model.CallStatus]model.CallSession{
		model.CallNotConnected:     selected,
		model.CallConnected:        connected,
		model.CallEnded:            ended,
		model.CallSummaryRetrieved: retrieved,
	}
}

func TestApplyOnlyFollowsEdges(t *testing.T) {
	now := t0.Add(6 * time.Minute)
	for status, s := range fixtures(t) {
		for _, kind := range allEvents {
			next, err := Apply(s, completeEvent(kind), now, DefaultPolicy())
			if !Allowed(status, kind) {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s + %s: err = %v, want ErrInvalidTransition", status, kind, err)
				}
				var te *TransitionError
				if !errors.As(err, &te) || te.From != status || te.Event != kind {
					t.Errorf("%s + %s: err = %#v", status, kind, err)
				}
				if next.Generation != s.Generation {
					t.Errorf("%s + %s: rejected event changed the session", status, kind)
				}
				continue
			}
			if err != nil {
				t.Errorf("%s + %s: unexpected error %v", status, kind, err)
				continue
			}
			if !legal[[2]model.CallStatus{status, next.Status}] {
				t.Errorf("%s + %s: illegal move to %s", status, kind, next.Status)
			}
			if next.Generation != s.Generation+1 {
				t.Errorf("%s + %s: generation %d, want %d", status, kind, next.Generation, s.Generation+1)
			}
		}
	}
}

func TestRandomWalkKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	s := model.NewCallSession()
	now := t0

	for i := 0; i < 2000; i++ {
		now = now.Add(time.Duration(rng.IntN(40)) * time.Second)
		kind := allEvents[rng.IntN(len(allEvents))]
		next, err := Apply(s, completeEvent(kind), now, DefaultPolicy())
		if err != nil {
			if next.Generation != s.Generation || next.Status != s.Status {
				t.Fatalf("step %d: failed %s changed the session", i, kind)
			}
			continue
		}
		if !legal[[2]model.CallStatus{s.Status, next.Status}] {
			t.Fatalf("step %d: %s moved %s -> %s", i, kind, s.Status, next.Status)
		}
		if err := next.Validate(); err != nil {
			t.Fatalf("step %d: %s produced invalid session: %v", i, kind, err)
		}
		if (next.Analysis != nil) != (next.Status == model.CallSummaryRetrieved) {
			t.Fatalf("step %d: analysis present in %s", i, next.Status)
		}
		if (next.Transport != nil) != (next.Status == model.CallConnected) {
			t.Fatalf("step %d: transport present in %s", i, next.Status)
		}
		s = next
	}
}

func TestApplyStartRequiresCallee(t *testing.T) {
	_, err := Apply(model.NewCallSession(), completeEvent(EventStarted), t0, DefaultPolicy())
	if !errors.Is(err, ErrNoCallee) {
		t.Errorf("err = %v, want ErrNoCallee", err)
	}
}

func TestApplySelectDefaultsPersona(t *testing.T) {
	s := mustApply(t, model.NewCallSession(), t0, EventSelected)
	if s.Callee.Persona != model.DefaultPersona {
		t.Errorf("persona = %q, want %q", s.Callee.Persona, model.DefaultPersona)
	}

	_, err := Apply(s, Event{Kind: EventSelected, Callee: &model.Callee{Name: "no id"}}, t0, DefaultPolicy())
	if !errors.Is(err, ErrIncompleteEvent) {
		t.Errorf("err = %v, want ErrIncompleteEvent", err)
	}
}

func TestApplyEndedSetsPollWindow(t *testing.T) {
	f := fixtures(t)
	now := t0.Add(10 * time.Minute)
	s, err := Apply(f[model.CallConnected], Event{Kind: EventEnded}, now, DefaultPolicy())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Transport != nil {
		t.Error("expected transport cleared")
	}
	if s.RoomName != "room-42" {
		t.Errorf("room = %q, want room-42 kept for polling", s.RoomName)
	}
	if !s.PollDeadline.Equal(now.Add(60 * time.Second)) {
		t.Errorf("deadline = %v, want now+60s", s.PollDeadline)
	}
	if s.PollAttempts != 0 || !s.NextPollAt.Equal(now) {
		t.Errorf("attempts/next = %d/%v", s.PollAttempts, s.NextPollAt)
	}
}

func TestApplyStaleSummaryRejected(t *testing.T) {
	s := fixtures(t)[model.CallEnded]
	ev := completeEvent(EventSummaryFound)
	ev.Room = "room-7"

	next, err := Apply(s, ev, t0.Add(6*time.Minute), DefaultPolicy())
	if !errors.Is(err, ErrStaleSummary) {
		t.Fatalf("err = %v, want ErrStaleSummary", err)
	}
	if next.Status != model.CallEnded || next.Analysis != nil {
		t.Errorf("stale summary changed session: %+v", next)
	}
}

func TestApplySummaryFoundClearsRoom(t *testing.T) {
	s := fixtures(t)[model.CallSummaryRetrieved]
	if s.RoomName != "" || s.PollDeadline != nil {
		t.Errorf("room/deadline = %q/%v, want cleared", s.RoomName, s.PollDeadline)
	}
	if s.CallLogID != "12" || s.Analysis.Summary != "Talked about roses." {
		t.Errorf("session = %+v", s)
	}
}

func TestApplyPollTimeout(t *testing.T) {
	p := DefaultPolicy()
	ended := fixtures(t)[model.CallEnded]
	endedAt := *ended.EndedAt

	s, err := Apply(ended, Event{Kind: EventSummaryPending}, endedAt.Add(89*time.Second), p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.AwaitingDecision {
		t.Fatal("expected polling to continue inside the grace period")
	}
	if !s.NextPollAt.Equal(endedAt.Add(89*time.Second + p.PollInterval)) {
		t.Errorf("next poll = %v", s.NextPollAt)
	}

	s, err = Apply(s, Event{Kind: EventPollFailed, Err: errors.New("refused")}, endedAt.Add(90*time.Second), p)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !s.AwaitingDecision || s.NextPollAt != nil {
		t.Errorf("awaiting/next = %t/%v, want true/nil", s.AwaitingDecision, s.NextPollAt)
	}
	if s.PollAttempts != 2 || s.LastError != "refused" {
		t.Errorf("attempts/error = %d/%q", s.PollAttempts, s.LastError)
	}
	if s.Status != model.CallEnded {
		t.Errorf("status = %s, want ended", s.Status)
	}
}

func TestApplyKeepWaiting(t *testing.T) {
	s := fixtures(t)[model.CallEnded]
	late := s.EndedAt.Add(2 * time.Minute)
	s = mustApply(t, s, late, EventSummaryPending, EventSummaryPending)
	if !s.AwaitingDecision {
		t.Fatal("expected timeout")
	}

	s = mustApply(t, s, late, EventKeepWaiting)
	if s.Status != model.CallEnded || s.AwaitingDecision {
		t.Errorf("status/awaiting = %s/%t", s.Status, s.AwaitingDecision)
	}
	if !s.PollDeadline.Equal(late.Add(DefaultPolicy().PollWindow)) {
		t.Errorf("deadline = %v, want %v", s.PollDeadline, late.Add(DefaultPolicy().PollWindow))
	}
	if s.PollAttempts != 0 {
		t.Errorf("attempts = %d, want 0", s.PollAttempts)
	}
}

func TestApplySkipAndSubmitReset(t *testing.T) {
	f := fixtures(t)
	for _, tc := range []struct {
		from model.CallStatus
		kind EventKind
	}{
		{model.CallEnded, EventSkipped},
		{model.CallSummaryRetrieved, EventSkipped},
		{model.CallSummaryRetrieved, EventSubmitted},
	} {
		s := mustApply(t, f[tc.from], t0.Add(time.Hour), tc.kind)
		if s.Status != model.CallNotConnected || s.Callee != nil || s.RoomName != "" || s.Analysis != nil {
			t.Errorf("%s + %s: expected reset, got %+v", tc.from, tc.kind, s)
		}
		if s.Generation <= f[tc.from].Generation {
			t.Errorf("%s + %s: generation did not advance", tc.from, tc.kind)
		}
	}
}

func TestActionsNeverEmpty(t *testing.T) {
	f := fixtures(t)
	timedOut := mustApply(t, f[model.CallEnded], t0.Add(time.Hour), EventSummaryPending)
	failed := mustApply(t, f[model.CallNotConnected], t0, EventStartFailed)

	cases := map[string]struct {
		s    model.CallSession
		want Action
	}{
		"idle":      {model.NewCallSession(), ActionSelect},
		"selected":  {f[model.CallNotConnected], ActionStart},
		"failed":    {failed, ActionRetry},
		"connected": {f[model.CallConnected], ActionEnd},
		"ended":     {f[model.CallEnded], ActionWait},
		"timed out": {timedOut, ActionKeepWaiting},
		"retrieved": {f[model.CallSummaryRetrieved], ActionSubmit},
	}
	for name, tc := range cases {
		got := Actions(tc.s)
		if len(got) == 0 {
			t.Errorf("%s: no actions", name)
			continue
		}
		if got[0] != tc.want {
			t.Errorf("%s: first action = %q, want %q", name, got[0], tc.want)
		}
	}
}

func TestDuration(t *testing.T) {
	f := fixtures(t)
	if d := Duration(model.NewCallSession(), t0); d != 0 {
		t.Errorf("idle duration = %v", d)
	}
	if d := Duration(f[model.CallConnected], t0.Add(90*time.Second)); d != 90*time.Second {
		t.Errorf("connected duration = %v, want 90s", d)
	}
	if d := Duration(f[model.CallEnded], t0.Add(time.Hour)); d != 5*time.Minute {
		t.Errorf("ended duration = %v, want 5m", d)
	}
}
