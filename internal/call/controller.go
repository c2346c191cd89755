package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/carecall/internal/clock"
	"github.com/dukerupert/carecall/internal/model"
	"github.com/dukerupert/carecall/internal/signaling"
	"github.com/dukerupert/carecall/internal/summary"
)

// ErrSuperseded is returned when the session moved on while a backend
// request was in flight; the late result is dropped.
var ErrSuperseded = errors.New("call session changed during request")

// ErrBusy is returned when a call start is already in flight.
var ErrBusy = errors.New("call start already in progress")

// SessionRepository is the durable home of the Call Session.
type SessionRepository interface {
	Load() (model.CallSession, error)
	Save(cs model.CallSession) error
}

// Backend is the subset of the signaling client the controller drives.
type Backend interface {
	StartCall(ctx context.Context, req signaling.StartRequest) (*signaling.StartResponse, error)
	StopCall(ctx context.Context, room string) error
	ListCalls(ctx context.Context) ([]model.CallLogEntry, error)
	UpdateMemory(ctx context.Context, u signaling.MemoryUpdate) (*signaling.MemoryUpdateResult, error)
}

// TransportHandle reaches the live media session, which runs outside this
// process.
type TransportHandle interface {
	Disconnect(ctx context.Context, room string) error
}

// Notifier is told about every committed transition.
type Notifier interface {
	CallChanged(ctx context.Context, cs model.CallSession)
}

type Controller struct {
	mu        sync.Mutex
	state     model.CallSession
	starting  bool
	polling   bool
	repo      SessionRepository
	backend   Backend
	poller    *Poller
	transport TransportHandle
	notifier  Notifier
	clock     clock.Clock
	policy    Policy
	logger    *slog.Logger
}

type ControllerOption func(*Controller)

func WithClock(c clock.Clock) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

func WithPolicy(p Policy) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.policy = p.withDefaults()
	}
}

func WithTransport(t TransportHandle) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.transport = t
	}
}

func WithNotifier(n Notifier) ControllerOption {
	return func(ctrl *Controller) {
		ctrl.notifier = n
	}
}

// NewController resumes from the session stored in repo.
func NewController(repo SessionRepository, backend Backend, logger *slog.Logger, opts ...ControllerOption) (*Controller, error) {
	c := &Controller{
		repo:    repo,
		backend: backend,
		clock:   clock.Real(),
		policy:  DefaultPolicy(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.poller = NewPoller(backend, logger)

	state, err := repo.Load()
	if err != nil {
		return nil, fmt.Errorf("load call session: %w", err)
	}
	if err := state.Validate(); err != nil {
		c.logger.Warn("discarding inconsistent call session", "error", err)
		state = model.NewCallSession()
	}
	c.state = state
	if state.Status != model.CallNotConnected {
		c.logger.Info("resumed call session", "status", state.Status, "room", state.RoomName)
	}
	return c, nil
}

// State returns a copy of the current session.
func (c *Controller) State() model.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Policy returns the timing policy in effect.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Now is the controller's clock reading.
func (c *Controller) Now() time.Time {
	return c.clock.Now()
}

// commit applies ev under c.mu and persists the result. The caller must hold
// c.mu and call notify with the returned session after unlocking.
func (c *Controller) commit(ev Event) (model.CallSession, error) {
	next, err := Apply(c.state, ev, c.clock.Now(), c.policy)
	if err != nil {
		return c.state, err
	}
	prev := c.state.Status
	c.state = next
	if err := c.repo.Save(next); err != nil {
		c.logger.Error("persist call session, continuing in memory", "error", err)
	}
	if prev != next.Status {
		c.logger.Info("call transition", "event", ev.Kind, "from", prev, "to", next.Status)
	} else {
		c.logger.Debug("call event", "event", ev.Kind, "status", next.Status)
	}
	return next, nil
}

func (c *Controller) notify(ctx context.Context, cs model.CallSession) {
	if c.notifier != nil {
		c.notifier.CallChanged(ctx, cs)
	}
}

// Select records the callee for the next call.
func (c *Controller) Select(ctx context.Context, callee model.Callee) (model.CallSession, error) {
	c.mu.Lock()
	cs, err := c.commit(Event{Kind: EventSelected, Callee: &callee})
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	c.notify(ctx, cs)
	return cs, nil
}

// Start asks the backend for a room and moves to Connected. On failure the
// session stays NotConnected with the error recorded.
func (c *Controller) Start(ctx context.Context) (model.CallSession, error) {
	c.mu.Lock()
	if !Allowed(c.state.Status, EventStarted) {
		cs := c.state
		c.mu.Unlock()
		return cs, &TransitionError{From: cs.Status, Event: EventStarted}
	}
	if c.state.Callee == nil {
		cs := c.state
		c.mu.Unlock()
		return cs, ErrNoCallee
	}
	if c.starting {
		cs := c.state
		c.mu.Unlock()
		return cs, ErrBusy
	}
	c.starting = true
	gen := c.state.Generation
	callee := *c.state.Callee
	c.mu.Unlock()

	resp, err := c.backend.StartCall(ctx, signaling.StartRequest{
		UserID:   callee.ID,
		UserName: callee.Name,
		Persona:  callee.Persona,
	})

	c.mu.Lock()
	c.starting = false
	if c.state.Generation != gen {
		cs := c.state
		c.mu.Unlock()
		if err == nil {
			c.logger.Warn("call started after session changed, stopping orphan room", "room", resp.RoomName)
			c.bestEffort(context.WithoutCancel(ctx), "stop orphan call", func(ctx context.Context) error {
				return c.backend.StopCall(ctx, resp.RoomName)
			})
		}
		return cs, ErrSuperseded
	}
	if err != nil {
		cs, applyErr := c.commit(Event{Kind: EventStartFailed, Err: err})
		c.mu.Unlock()
		if applyErr != nil {
			return cs, applyErr
		}
		c.logger.Warn("start call failed", "callee", callee.ID, "error", err)
		c.notify(ctx, cs)
		return cs, fmt.Errorf("start call: %w", err)
	}
	cs, err := c.commit(Event{
		Kind:      EventStarted,
		Room:      resp.RoomName,
		Transport: &model.TransportCredentials{Endpoint: resp.LiveKitURL, Token: resp.UserToken},
	})
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	c.notify(ctx, cs)
	return cs, nil
}

// End moves to Ended and starts the summary wait. Stopping the call on the
// backend and dropping the live transport are attempted but never block the
// transition.
func (c *Controller) End(ctx context.Context) (model.CallSession, error) {
	c.mu.Lock()
	room := c.state.RoomName
	cs, err := c.commit(Event{Kind: EventEnded})
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	c.notify(ctx, cs)

	c.bestEffort(ctx, "stop call", func(ctx context.Context) error {
		return c.backend.StopCall(ctx, room)
	})
	if c.transport != nil {
		if err := c.transport.Disconnect(ctx, room); err != nil {
			c.logger.Warn("disconnect live transport failed, continuing", "room", room, "error", err)
		}
	}
	return cs, nil
}

// Tick runs one summary poll if the session is waiting for one and the next
// poll is due. It returns ErrSummaryTimeout once the deadline has passed and
// the operator has to decide.
func (c *Controller) Tick(ctx context.Context) (model.CallSession, error) {
	c.mu.Lock()
	cs := c.state
	if cs.Status != model.CallEnded || c.polling {
		c.mu.Unlock()
		return cs, nil
	}
	if cs.AwaitingDecision {
		c.mu.Unlock()
		return cs, ErrSummaryTimeout
	}
	if cs.NextPollAt != nil && c.clock.Now().Before(*cs.NextPollAt) {
		c.mu.Unlock()
		return cs, nil
	}
	c.polling = true
	gen := cs.Generation
	room := cs.RoomName
	c.mu.Unlock()

	entry, pollErr := c.poller.Check(ctx, room)

	c.mu.Lock()
	c.polling = false
	if c.state.Generation != gen {
		cs := c.state
		c.mu.Unlock()
		c.logger.Debug("discarding late poll result", "room", room)
		return cs, nil
	}
	var ev Event
	switch {
	case pollErr != nil:
		ev = Event{Kind: EventPollFailed, Err: pollErr}
	case entry != nil:
		analysis := summary.Analyze(*entry)
		ev = Event{Kind: EventSummaryFound, Room: entry.RoomName, Analysis: &analysis, CallLogID: entry.ID}
	default:
		ev = Event{Kind: EventSummaryPending}
	}
	cs, err := c.commit(ev)
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	if pollErr != nil {
		c.logger.Warn("summary poll failed", "room", room, "attempt", cs.PollAttempts, "error", pollErr)
	}
	c.notify(ctx, cs)
	if cs.AwaitingDecision {
		return cs, ErrSummaryTimeout
	}
	return cs, nil
}

// KeepWaiting restarts the summary wait with a fresh window.
func (c *Controller) KeepWaiting(ctx context.Context) (model.CallSession, error) {
	c.mu.Lock()
	cs, err := c.commit(Event{Kind: EventKeepWaiting})
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	c.notify(ctx, cs)
	return cs, nil
}

// Skip abandons the call's summary and resets the console. Any request still
// in flight for the old session is discarded when it returns.
func (c *Controller) Skip(ctx context.Context) (model.CallSession, error) {
	c.mu.Lock()
	room := c.state.RoomName
	cs, err := c.commit(Event{Kind: EventSkipped})
	c.mu.Unlock()
	if err != nil {
		return cs, err
	}
	c.logger.Info("call summary skipped", "room", room)
	c.notify(ctx, cs)
	return cs, nil
}

// SubmitResult is the reset session plus the follow-ups the backend still
// has pending for the callee.
type SubmitResult struct {
	Session          model.CallSession
	PendingFollowups []json.RawMessage
	// MemoryUpdated is false when the memory update could not be delivered.
	MemoryUpdated bool
}

// Submit accepts the operator-reviewed analysis, resets the console and
// pushes the analysis to the callee's memory.
func (c *Controller) Submit(ctx context.Context, reviewed model.Analysis) (SubmitResult, error) {
	c.mu.Lock()
	prev := c.state
	cs, err := c.commit(Event{Kind: EventSubmitted})
	c.mu.Unlock()
	if err != nil {
		return SubmitResult{Session: cs}, err
	}
	c.notify(ctx, cs)

	update := memoryUpdate(prev, reviewed)
	res := SubmitResult{Session: cs}
	c.bestEffort(ctx, "update memory", func(ctx context.Context) error {
		out, err := c.backend.UpdateMemory(ctx, update)
		if err != nil {
			return err
		}
		res.PendingFollowups = out.PendingFollowups
		res.MemoryUpdated = true
		return nil
	})
	return res, nil
}

func memoryUpdate(prev model.CallSession, reviewed model.Analysis) signaling.MemoryUpdate {
	u := signaling.MemoryUpdate{
		CallID:  prev.CallLogID,
		Summary: strings.TrimSpace(reviewed.Summary),
		Mood:    string(reviewedMood(prev, reviewed)),
		Topics:  cleanTopics(reviewed.Topics),
	}
	if prev.Callee != nil {
		u.UserID = prev.Callee.ID
		u.UserName = prev.Callee.Name
	}
	switch {
	case prev.StartedAt != nil:
		u.Date = prev.StartedAt.Format("2006-01-02")
	case prev.EndedAt != nil:
		u.Date = prev.EndedAt.Format("2006-01-02")
	}
	return u
}

func reviewedMood(prev model.CallSession, reviewed model.Analysis) model.Mood {
	switch reviewed.Mood {
	case model.MoodHappy, model.MoodNeutral, model.MoodSad:
		return reviewed.Mood
	case "":
		if prev.Analysis != nil {
			return prev.Analysis.Mood
		}
		return model.MoodNeutral
	}
	return summary.NormalizeMood(string(reviewed.Mood))
}

func cleanTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// bestEffort runs fn with a few quick retries on connection failures and
// logs, rather than returns, the final error.
func (c *Controller) bestEffort(ctx context.Context, op string, fn func(context.Context) error) {
	backoff := retry.WithMaxRetries(c.policy.RetryAttempts, retry.NewConstant(c.policy.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, signaling.ErrBackendUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		c.logger.Warn(op+" failed, continuing", "error", err)
	}
}
