package store

import (
	"testing"
	"time"

	"github.com/dukerupert/carecall/internal/database"
	"github.com/dukerupert/carecall/internal/model"
)

func setupCallSessionTestDB(t *testing.T) *CallSessionStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCallSessionStore(db)
}

func TestCallSessionLoadDefault(t *testing.T) {
	cs := setupCallSessionTestDB(t)

	got, err := cs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != model.CallNotConnected {
		t.Errorf("status = %q, want %q", got.Status, model.CallNotConnected)
	}
	if got.Callee != nil || got.Analysis != nil {
		t.Errorf("expected empty session, got %+v", got)
	}
}

func TestCallSessionSaveLoadEnded(t *testing.T) {
	cs := setupCallSessionTestDB(t)
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)
	deadline := ended.Add(60 * time.Second)

	want := model.CallSession{
		Status:       model.CallEnded,
		Callee:       &model.Callee{ID: "7", Name: "Margaret", Persona: "Friendly"},
		RoomName:     "room-42",
		StartedAt:    &started,
		EndedAt:      &ended,
		PollDeadline: &deadline,
		NextPollAt:   &ended,
		PollAttempts: 3,
		LastError:    "backend unavailable",
		Generation:   5,
		UpdatedAt:    ended,
	}
	if err := cs.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != model.CallEnded || got.RoomName != "room-42" {
		t.Errorf("status/room = %q/%q", got.Status, got.RoomName)
	}
	if got.Callee == nil || got.Callee.Name != "Margaret" || got.Callee.ID != "7" {
		t.Errorf("callee = %+v", got.Callee)
	}
	if got.Transport != nil {
		t.Errorf("expected no transport, got %+v", got.Transport)
	}
	if got.PollDeadline == nil || !got.PollDeadline.Equal(deadline) {
		t.Errorf("poll_deadline = %v, want %v", got.PollDeadline, deadline)
	}
	if got.PollAttempts != 3 || got.Generation != 5 {
		t.Errorf("attempts/generation = %d/%d, want 3/5", got.PollAttempts, got.Generation)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("loaded session invalid: %v", err)
	}
}

func TestCallSessionSaveLoadAnalysis(t *testing.T) {
	cs := setupCallSessionTestDB(t)
	want := model.CallSession{
		Status: model.CallSummaryRetrieved,
		Callee: &model.Callee{ID: "7", Name: "Margaret"},
		Analysis: &model.Analysis{
			Summary:      "Talked about the garden.",
			Mood:         model.MoodHappy,
			Topics:       []string{"garden", "roses"},
			NewFollowups: []string{"ask about the roses"},
		},
		CallLogID:  "12",
		Generation: 6,
	}
	if err := cs.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Analysis == nil {
		t.Fatal("expected analysis")
	}
	if got.Analysis.Mood != model.MoodHappy || len(got.Analysis.Topics) != 2 {
		t.Errorf("analysis = %+v", got.Analysis)
	}
	if got.CallLogID != "12" {
		t.Errorf("call_log_id = %q, want 12", got.CallLogID)
	}
}

func TestCallSessionSaveOverwrites(t *testing.T) {
	cs := setupCallSessionTestDB(t)
	connected := model.CallSession{
		Status:    model.CallConnected,
		RoomName:  "room-1",
		Transport: &model.TransportCredentials{Endpoint: "wss://lk", Token: "tok"},
	}
	cs.Save(connected)
	cs.Save(model.NewCallSession())

	got, err := cs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != model.CallNotConnected || got.Transport != nil || got.RoomName != "" {
		t.Errorf("expected reset session, got %+v", got)
	}
}
