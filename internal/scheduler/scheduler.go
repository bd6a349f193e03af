// Package scheduler decides when queued commands are delivered and tracks
// the sync state shown to the user.
//
// The scheduler owns the session: Init restores the queue, Enqueue records
// edits, Schedule submits the whole queue as one batch, and Complete applies
// the outcome announced on the bus. Outcomes always travel through the bus,
// so attempts made by a background runner or another process move this
// scheduler's state exactly like its own attempts do.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/roach88/stockroom/internal/bus"
	"github.com/roach88/stockroom/internal/queue"
	"github.com/roach88/stockroom/internal/transport"
)

// State is the user-visible sync state.
type State string

const (
	StateIdle    State = "IDLE"
	StatePending State = "PENDING"
	StateSyncing State = "SYNCING"
	StateSuccess State = "SUCCESS"
	StateError   State = "ERROR"
)

// Trigger names what started an attempt. It only appears in logs.
type Trigger string

const (
	TriggerStartup    Trigger = "startup"
	TriggerTick       Trigger = "tick"
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

const (
	DefaultPollInterval    = 15 * time.Second
	DefaultDisplayInterval = 3 * time.Second
)

// Reasons an attempt did not run. None of them change state.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrQueueEmpty     = errors.New("nothing to sync")
	ErrOffline        = errors.New("backend unreachable")
	ErrLockHeld       = errors.New("sync lock held by another process")
)

// IsSkip reports whether err means the attempt was skipped rather than
// failed.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSyncInProgress) ||
		errors.Is(err, ErrQueueEmpty) ||
		errors.Is(err, ErrOffline) ||
		errors.Is(err, ErrLockHeld)
}

// Sender delivers a batch. Satisfied by *transport.Client.
type Sender interface {
	SubmitBatch(ctx context.Context, cmds []queue.Command) (*transport.BatchResponse, error)
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State     `json:"state"`
	Pending      int       `json:"pending"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitzero"`
	LastOutcome  *Outcome  `json:"lastOutcome,omitempty"`
}

// Scheduler serialises batch submissions and owns the sync state.
type Scheduler struct {
	queue  *queue.Queue
	sender Sender
	bus    *bus.Bus

	conn            Connectivity
	bg              BackgroundScheduler
	lock            *flock.Flock
	pollInterval    time.Duration
	displayInterval time.Duration
	startupSync     bool
	now             func() time.Time

	mu           sync.Mutex
	state        State
	syncing      bool
	lastSyncedAt time.Time
	last         *Outcome
	resetGen     uint64
	resetTimer   *time.Timer
	observers    []func(Status)
	unsubscribe  func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConnectivity replaces AlwaysOnline.
func WithConnectivity(c Connectivity) Option {
	return func(s *Scheduler) { s.conn = c }
}

// WithBackground arms bg whenever delivery has to be retried later.
func WithBackground(bg BackgroundScheduler) Option {
	return func(s *Scheduler) { s.bg = bg }
}

// WithLock guards submissions with a file lock at path, shared by every
// process using the same data directory.
func WithLock(path string) Option {
	return func(s *Scheduler) { s.lock = flock.New(path) }
}

// WithPollInterval sets how often Run retries a non-empty queue.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithDisplayInterval sets how long SUCCESS and ERROR stay visible.
func WithDisplayInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.displayInterval = d }
}

// WithStartupSync controls whether Init attempts delivery of a restored
// queue. On by default.
func WithStartupSync(on bool) Option {
	return func(s *Scheduler) { s.startupSync = on }
}

// WithClock replaces time.Now for LastSyncedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns an idle scheduler delivering q through sender and announcing
// outcomes on b.
func New(q *queue.Queue, sender Sender, b *bus.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:           q,
		sender:          sender,
		bus:             b,
		conn:            AlwaysOnline{},
		pollInterval:    DefaultPollInterval,
		displayInterval: DefaultDisplayInterval,
		startupSync:     true,
		now:             time.Now,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.New()
	}
	return s
}

// Init subscribes to the bus and restores the persisted queue. A
// non-empty queue moves to PENDING, arms background retry, and is
// submitted straight away unless startup sync is off.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.bus.Handle(s.Complete)
	}
	s.mu.Unlock()

	cmds, err := s.queue.Load(ctx)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	slog.Debug("queue restored", "pending", len(cmds))
	if len(cmds) == 0 {
		return nil
	}

	s.mu.Lock()
	s.state = StatePending
	s.mu.Unlock()
	s.notify()
	s.arm(ctx)

	if s.startupSync {
		s.attempt(ctx, TriggerStartup)
	}
	return nil
}

// Enqueue queues cmd and applies it locally. The state becomes PENDING
// unless a batch is in flight, in which case cmd goes with the next one.
func (s *Scheduler) Enqueue(ctx context.Context, cmd queue.Command) error {
	err := s.queue.Enqueue(ctx, cmd)
	if errors.Is(err, queue.ErrInvalidCommand) {
		return err
	}

	s.mu.Lock()
	s.cancelResetLocked()
	if !s.syncing {
		s.state = StatePending
	}
	s.mu.Unlock()
	s.notify()
	s.arm(ctx)
	return err
}

// Schedule submits the whole queue as one batch if the backend is
// reachable, the queue is non-empty, and no batch is in flight. Skipped
// attempts return an error matched by IsSkip. Otherwise the outcome has
// already been published on the bus when Schedule returns.
func (s *Scheduler) Schedule(ctx context.Context, trigger Trigger) (Outcome, error) {
	if !s.conn.Online(ctx) {
		return Outcome{}, ErrOffline
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return Outcome{}, ErrSyncInProgress
	}
	if s.queue.Len() == 0 {
		s.mu.Unlock()
		return Outcome{}, ErrQueueEmpty
	}
	prev := s.state
	s.syncing = true
	s.state = StateSyncing
	s.cancelResetLocked()
	s.mu.Unlock()
	s.notify()

	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil || !locked {
			s.mu.Lock()
			s.syncing = false
			s.state = prev
			if prev == StateSuccess || prev == StateError {
				s.scheduleResetLocked()
			}
			s.mu.Unlock()
			s.notify()
			if err != nil {
				return Outcome{}, fmt.Errorf("acquire sync lock: %w", err)
			}
			return Outcome{}, ErrLockHeld
		}
	}

	out := s.submit(ctx, trigger)

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("failed to release sync lock", "error", err)
		}
	}

	s.mu.Lock()
	s.syncing = false
	s.last = &out
	s.mu.Unlock()

	s.bus.Publish(out.event())

	if out.Retryable() {
		s.arm(ctx)
	}
	return out, nil
}

func (s *Scheduler) submit(ctx context.Context, trigger Trigger) Outcome {
	if err := s.queue.Refresh(ctx); err != nil {
		slog.Warn("queue refresh failed, submitting in-memory list", "error", err)
	}
	cmds := s.queue.Commands()
	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.ID
	}
	if len(cmds) == 0 {
		return Outcome{Kind: OutcomeOK}
	}

	slog.Info("submitting batch", "trigger", trigger, "commands", len(cmds))
	resp, err := s.sender.SubmitBatch(ctx, cmds)
	if err != nil {
		out := failure(err, ids)
		slog.Warn("batch failed", "kind", out.Kind, "error", err)
		return out
	}

	out := Classify(resp, ids)
	if !out.Delivered() {
		slog.Warn("batch rejected", "message", out.Message)
		return out
	}
	if err := s.queue.Remove(ctx, ids); err != nil {
		slog.Error("failed to clear delivered commands", "error", err)
	}
	slog.Info("batch delivered",
		"kind", out.Kind,
		"commands", out.Submitted,
		"conflicts", out.Conflicts,
		"failures", out.Failures,
	)
	return out
}

// Complete applies a bus event to the state. Events from other origins
// mean another process changed the persisted queue, so it is re-read
// first. While a local batch is in flight the state is left alone; the
// local outcome follows shortly.
func (s *Scheduler) Complete(e bus.Event) {
	foreign := e.Origin != "" && e.Origin != s.bus.Origin()
	if foreign {
		if err := s.queue.Refresh(context.Background()); err != nil {
			slog.Warn("queue refresh after remote sync failed", "error", err)
		}
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return
	}
	switch e.Type {
	case bus.SyncComplete:
		s.state = StateSuccess
		s.lastSyncedAt = s.now()
	case bus.SyncError:
		s.state = StateError
	default:
		s.mu.Unlock()
		return
	}
	if foreign {
		out := outcomeFromEvent(e)
		s.last = &out
	}
	s.scheduleResetLocked()
	s.mu.Unlock()
	s.notify()
}

// Reset leaves SUCCESS or ERROR immediately.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cancelResetLocked()
	changed := s.settleLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Run attempts delivery now and then on every poll tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Debug("scheduler starting", "poll", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.attempt(ctx, TriggerTick)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("scheduler stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C:
			s.attempt(ctx, TriggerTick)
		}
	}
}

// RunOnce makes a single background attempt. The background marker is
// cleared when nothing is left to retry.
func (s *Scheduler) RunOnce(ctx context.Context) (Outcome, error) {
	out, err := s.Schedule(ctx, TriggerBackground)
	done := errors.Is(err, ErrQueueEmpty) || (err == nil && !out.Retryable() && s.queue.Len() == 0)
	if d, ok := s.bg.(interface{ Disarm() error }); ok && done {
		if derr := d.Disarm(); derr != nil {
			slog.Warn("failed to disarm background retry", "error", derr)
		}
	}
	return out, err
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current state with queue and outcome details.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// OnChange registers fn to receive the status after every transition.
func (s *Scheduler) OnChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Close unsubscribes from the bus and stops the reset timer.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelResetLocked()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Scheduler) attempt(ctx context.Context, trigger Trigger) {
	out, err := s.Schedule(ctx, trigger)
	switch {
	case err == nil:
		slog.Debug("sync attempt finished", "trigger", trigger, "outcome", out.String())
	case IsSkip(err):
		slog.Debug("sync attempt skipped", "trigger", trigger, "reason", err)
	default:
		slog.Warn("sync attempt failed", "trigger", trigger, "error", err)
	}
}

func (s *Scheduler) arm(ctx context.Context) {
	if s.bg == nil {
		return
	}
	if err := s.bg.ArmBackgroundRetry(ctx); err != nil {
		slog.Warn("failed to arm background retry", "error", err)
	}
}

func (s *Scheduler) scheduleResetLocked() {
	s.cancelResetLocked()
	gen := s.resetGen
	s.resetTimer = time.AfterFunc(s.displayInterval, func() { s.expire(gen) })
}

func (s *Scheduler) cancelResetLocked() {
	s.resetGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.resetGen {
		s.mu.Unlock()
		return
	}
	s.resetTimer = nil
	changed := s.settleLocked()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// settleLocked moves SUCCESS or ERROR to IDLE, or to PENDING when commands
// are still queued.
func (s *Scheduler) settleLocked() bool {
	if s.state != StateSuccess && s.state != StateError {
		return false
	}
	if s.queue.Len() > 0 {
		s.state = StatePending
	} else {
		s.state = StateIdle
	}
	return true
}

func (s *Scheduler) statusLocked() Status {
	st := Status{
		State:        s.state,
		Pending:      s.queue.Len(),
		LastSyncedAt: s.lastSyncedAt,
	}
	if s.last != nil {
		last := *s.last
		st.LastOutcome = &last
	}
	return st
}

func (s *Scheduler) notify() {
	s.mu.Lock()
	st := s.statusLocked()
	observers := append(([]func(Status))(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(st)
	}
}
