// Package summary turns the agent's call report into the structured analysis
// an operator reviews.
//
// Reports are loosely formatted markdown:
//
//	**Summary:** Margaret talked about her garden.
//	**Overall Mood:** Positive
//	**Topics Discussed:**
//	- garden
//	- grandchildren
//
// Any section may be missing; plain prose is accepted as a bare summary.
package summary

import (
	"strings"

	"github.com/dukerupert/carecall/internal/model"
)

const (
	summaryMarker = "**Summary:**"
	moodMarker    = "**Overall Mood:**"
	topicsMarker  = "**Topics Discussed:**"
)

// Report is the parsed form of a report. Mood is the raw text after the mood
// marker, or "" when absent.
type Report struct {
	Summary string
	Mood    string
	Topics  []string
}

// Parse extracts the sections of a report.
func Parse(text string) Report {
	var r Report

	if i := strings.Index(text, summaryMarker); i >= 0 {
		body := text[i+len(summaryMarker):]
		if end := firstIndex(body, moodMarker, topicsMarker); end >= 0 {
			body = body[:end]
		}
		r.Summary = strings.TrimSpace(body)
	} else {
		r.Summary = strings.TrimSpace(text)
	}

	if i := strings.Index(text, moodMarker); i >= 0 {
		rest := strings.TrimLeft(text[i+len(moodMarker):], " \t\r\n")
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		r.Mood = strings.TrimSpace(rest)
	}

	if i := strings.Index(text, topicsMarker); i >= 0 {
		for _, line := range strings.Split(text[i+len(topicsMarker):], "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "-") {
				continue
			}
			if topic := strings.TrimLeft(line, "- "); topic != "" {
				r.Topics = append(r.Topics, topic)
			}
		}
	}
	return r
}

func firstIndex(s string, markers ...string) int {
	best := -1
	for _, m := range markers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

var (
	sadWords   = []string{"sad", "negative", "low", "down", "anxious", "lonely", "upset", "depressed", "worried"}
	happyWords = []string{"happy", "positive", "good", "cheerful", "content", "upbeat", "great"}
)

// NormalizeMood maps free-text mood to happy, neutral or sad. Sad words are
// checked first so "not happy, rather low" reads as sad.
func NormalizeMood(raw string) model.Mood {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	})
	for _, w := range words {
		for _, s := range sadWords {
			if w == s {
				return model.MoodSad
			}
		}
	}
	for _, w := range words {
		for _, h := range happyWords {
			if w == h {
				return model.MoodHappy
			}
		}
	}
	return model.MoodNeutral
}

// Analyze builds the reviewable analysis for a call log entry. Structured
// fields on the entry win over what the report text says.
func Analyze(entry model.CallLogEntry) model.Analysis {
	r := Parse(entry.Summary)

	a := model.Analysis{
		Summary: r.Summary,
		Mood:    NormalizeMood(r.Mood),
		Topics:  r.Topics,
	}
	if entry.Mood != "" {
		a.Mood = NormalizeMood(entry.Mood)
	}
	if len(entry.Topics) > 0 {
		a.Topics = append([]string(nil), entry.Topics...)
	}
	if len(entry.NewFollowups) > 0 {
		a.NewFollowups = append([]string(nil), entry.NewFollowups...)
	}
	if a.Topics == nil {
		a.Topics = []string{}
	}
	return a
}
