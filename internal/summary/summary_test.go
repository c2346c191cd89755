package summary

import (
	"reflect"
	"testing"

	"github.com/dukerupert/carecall/internal/model"
)

const fullReport = `**Summary:** Margaret talked about her roses
and her grandson's visit.

**Overall Mood:** Positive, she laughed a lot

**Topics Discussed:**
- Gardening
- Family visit
  - Weekend plans
not a bullet
`

func TestParseFullReport(t *testing.T) {
	r := Parse(fullReport)

	want := "Margaret talked about her roses\nand her grandson's visit."
	if r.Summary != want {
		t.Errorf("summary = %q, want %q", r.Summary, want)
	}
	if r.Mood != "Positive, she laughed a lot" {
		t.Errorf("mood = %q", r.Mood)
	}
	wantTopics := []string{"Gardening", "Family visit", "Weekend plans"}
	if !reflect.DeepEqual(r.Topics, wantTopics) {
		t.Errorf("topics = %q, want %q", r.Topics, wantTopics)
	}
}

func TestParseSummaryWithoutMood(t *testing.T) {
	r := Parse("**Summary:** Short call.\n**Topics Discussed:**\n- weather")

	if r.Summary != "Short call." {
		t.Errorf("summary = %q", r.Summary)
	}
	if r.Mood != "" {
		t.Errorf("mood = %q, want empty", r.Mood)
	}
	if len(r.Topics) != 1 || r.Topics[0] != "weather" {
		t.Errorf("topics = %q", r.Topics)
	}
}

func TestParsePlainText(t *testing.T) {
	r := Parse("  The caller hung up after a minute.  ")
	if r.Summary != "The caller hung up after a minute." {
		t.Errorf("summary = %q", r.Summary)
	}
	if r.Mood != "" || r.Topics != nil {
		t.Errorf("expected no mood or topics, got %q %q", r.Mood, r.Topics)
	}
}

func TestNormalizeMood(t *testing.T) {
	tests := []struct {
		in   string
		want model.Mood
	}{
		{"Positive", model.MoodHappy},
		{"happy", model.MoodHappy},
		{"Cheerful and upbeat", model.MoodHappy},
		{"Negative", model.MoodSad},
		{"feeling LOW today", model.MoodSad},
		{"not happy, rather lonely", model.MoodSad},
		{"Neutral", model.MoodNeutral},
		{"calm", model.MoodNeutral},
		{"", model.MoodNeutral},
		{"downright goodness", model.MoodNeutral},
	}
	for _, tt := range tests {
		if got := NormalizeMood(tt.in); got != tt.want {
			t.Errorf("NormalizeMood(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnalyzeFromReport(t *testing.T) {
	a := Analyze(model.CallLogEntry{RoomName: "room-42", Summary: fullReport})

	if a.Mood != model.MoodHappy {
		t.Errorf("mood = %q, want happy", a.Mood)
	}
	if len(a.Topics) != 3 {
		t.Errorf("topics = %q", a.Topics)
	}
	if a.NewFollowups != nil {
		t.Errorf("followups = %q, want none", a.NewFollowups)
	}
}

func TestAnalyzeStructuredFieldsWin(t *testing.T) {
	a := Analyze(model.CallLogEntry{
		Summary:      fullReport,
		Mood:         "sad",
		Topics:       model.StringList{"health"},
		NewFollowups: model.StringList{"check on knee pain"},
	})

	if a.Mood != model.MoodSad {
		t.Errorf("mood = %q, want sad", a.Mood)
	}
	if !reflect.DeepEqual(a.Topics, []string{"health"}) {
		t.Errorf("topics = %q", a.Topics)
	}
	if !reflect.DeepEqual(a.NewFollowups, []string{"check on knee pain"}) {
		t.Errorf("followups = %q", a.NewFollowups)
	}
}

func TestAnalyzeNeverNilTopics(t *testing.T) {
	a := Analyze(model.CallLogEntry{Summary: "Just a chat."})
	if a.Topics == nil {
		t.Error("expected empty, non-nil topics")
	}
	if a.Mood != model.MoodNeutral {
		t.Errorf("mood = %q, want neutral", a.Mood)
	}
}
