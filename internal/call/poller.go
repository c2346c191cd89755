package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/carecall/internal/model"
)

// CallLister reads the backend call log.
type CallLister interface {
	ListCalls(ctx context.Context) ([]model.CallLogEntry, error)
}

// Poller looks for the summary of one room in the call log. It holds no
// state; deadlines and attempt counts live on the Call Session.
type Poller struct {
	lister CallLister
	logger *slog.Logger
}

func NewPoller(lister CallLister, logger *slog.Logger) *Poller {
	return &Poller{lister: lister, logger: logger}
}

// Check returns the summarised entry for room, or nil, nil if it has not
// been written yet.
func (p *Poller) Check(ctx context.Context, room string) (*model.CallLogEntry, error) {
	entries, err := p.lister.ListCalls(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll summary: %w", err)
	}
	entry := Match(entries, room)
	if entry == nil {
		p.logger.Debug("summary not ready", "room", room, "entries", len(entries))
		return nil, nil
	}
	return entry, nil
}

// Match picks the entry for room with the latest end time and returns it if
// its summary is non-blank. Entries for other rooms are never considered,
// however recent.
func Match(entries []model.CallLogEntry, room string) *model.CallLogEntry {
	if room == "" {
		return nil
	}
	var best *model.CallLogEntry
	for i := range entries {
		e := &entries[i]
		if e.RoomName != room {
			continue
		}
		if best == nil || e.EndTime.After(best.EndTime.Time) {
			best = e
		}
	}
	if best == nil || strings.TrimSpace(best.Summary) == "" {
		return nil
	}
	found := *best
	return &found
}
