package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/carecall/internal/model"
)

// Ticker is the part of Controller the Driver needs.
type Ticker interface {
	State() model.CallSession
	Tick(ctx context.Context) (model.CallSession, error)
}

// Driver polls for summaries in the background so a result is picked up even
// when no browser is open on the console.
type Driver struct {
	mu       sync.RWMutex
	ctrl     Ticker
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewDriver(ctrl Ticker, interval time.Duration, logger *slog.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultPolicy().PollInterval
	}
	return &Driver{
		ctrl:     ctrl,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the driver loop.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-progress tick to finish.
func (d *Driver) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (d *Driver) tick(ctx context.Context) {
	s := d.ctrl.State()
	if s.Status != model.CallEnded || s.AwaitingDecision {
		return
	}
	_, err := d.ctrl.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSummaryTimeout):
		d.logger.Info("summary wait timed out, waiting for operator", "room", s.RoomName)
	case ctx.Err() != nil:
	default:
		d.logger.Warn("background summary poll", "error", err)
	}
}
