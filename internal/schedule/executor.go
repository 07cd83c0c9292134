package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
)

const (
	// DefaultTick is the cron spec for evaluation.
	DefaultTick = "@every 30s"

	// DefaultTolerance is the width of a once schedule's window.
	DefaultTolerance = 30 * time.Second
)

// Dispatcher issues commands. *command.Dispatcher implements it.
type Dispatcher interface {
	Toggle(ctx context.Context, deviceID, switchID string, desired bool, source command.Source) (command.Outcome, error)
}

// StateReader reads current switch state. *device.Registry implements it.
type StateReader interface {
	Switch(deviceID, switchID string) (device.Switch, error)
}

// Options tunes an Executor. Zero values select the defaults.
type Options struct {
	Tick      string
	Tolerance time.Duration
	Location  *time.Location
}

// Executor holds the schedule set and evaluates it on a cron tick.
type Executor struct {
	repo       Repository
	dispatcher Dispatcher
	states     StateReader
	logger     Logger
	now        func() time.Time

	tick      string
	tolerance time.Duration
	loc       *time.Location

	cron *cron.Cron

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	sched *Schedule
}

// NewExecutor creates an executor. Call Load before Start.
func NewExecutor(repo Repository, dispatcher Dispatcher, states StateReader, opts Options) *Executor {
	e := &Executor{
		repo:       repo,
		dispatcher: dispatcher,
		states:     states,
		logger:     noopLogger{},
		now:        time.Now,
		tick:       opts.Tick,
		tolerance:  opts.Tolerance,
		loc:        opts.Location,
		entries:    make(map[string]*entry),
	}
	if e.tick == "" {
		e.tick = DefaultTick
	}
	if e.tolerance <= 0 {
		e.tolerance = DefaultTolerance
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	return e
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetClock replaces time.Now, for tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Load replaces the in-memory schedule set with the repository's.
func (e *Executor) Load(ctx context.Context) error {
	schedules, err := e.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make(map[string]*entry, len(schedules))
	for i := range schedules {
		e.entries[schedules[i].ID] = &entry{sched: schedules[i].Clone()}
	}
	e.logger.Info("schedules loaded", "count", len(schedules))
	return nil
}

// Start registers the evaluation tick and starts the cron runner.
func (e *Executor) Start(ctx context.Context) error {
	log := cronLogger{e.logger}
	e.cron = cron.New(
		cron.WithLocation(e.loc),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := e.cron.AddFunc(e.tick, func() { e.Evaluate(ctx) }); err != nil {
		return fmt.Errorf("registering schedule tick %q: %w", e.tick, err)
	}
	e.cron.Start()
	e.logger.Info("schedule executor started", "tick", e.tick, "timezone", e.loc.String())
	return nil
}

// Stop halts the cron runner and waits for a running evaluation.
func (e *Executor) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.logger.Info("schedule executor stopped")
}

// Evaluate checks every enabled schedule once and returns how many
// commands it dispatched.
func (e *Executor) Evaluate(ctx context.Context) int {
	now := e.now().In(e.loc)

	e.mu.RLock()
	entries := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	issued := 0
	for _, en := range entries {
		issued += e.evaluateEntry(ctx, en, now)
	}
	return issued
}

func (e *Executor) evaluateEntry(ctx context.Context, en *entry, now time.Time) int {
	en.mu.Lock()
	defer en.mu.Unlock()

	s := en.sched
	if !s.Enabled {
		return 0
	}

	active := IsActive(s, now, e.tolerance)
	prev := s.LastFiredState
	next := prev
	enabled := true
	issued := 0

	switch {
	case active && prev != FiredActive:
		issued = e.fire(ctx, s, s.Action.Desired())
		next = FiredActive
	case !active && prev == FiredActive:
		if s.InverseOnExit {
			issued = e.fire(ctx, s, !s.Action.Desired())
		}
		next = FiredInactive
		enabled = s.Type != TypeOnce
	case !active && prev == FiredUnknown:
		next = FiredInactive
	}

	if next == prev && enabled {
		return issued
	}
	if err := e.repo.SetFiredState(ctx, s.ID, next, enabled); err != nil {
		e.logger.Warn("persisting schedule state failed", "schedule_id", s.ID, "error", err)
	}
	s.LastFiredState = next
	s.Enabled = enabled
	return issued
}

// fire sends desired to every target not already in that state.
func (e *Executor) fire(ctx context.Context, s *Schedule, desired bool) int {
	issued := 0
	for _, t := range s.Targets {
		sw, err := e.states.Switch(t.DeviceID, t.SwitchID)
		if err != nil {
			e.logger.Warn("schedule target unavailable",
				"schedule_id", s.ID, "device_id", t.DeviceID, "switch_id", t.SwitchID, "error", err)
			continue
		}
		if sw.State == desired {
			continue
		}
		out, err := e.dispatcher.Toggle(ctx, t.DeviceID, t.SwitchID, desired, command.ScheduleSource(s.ID))
		if err != nil {
			e.logger.Warn("schedule command failed",
				"schedule_id", s.ID, "device_id", t.DeviceID, "switch_id", t.SwitchID, "error", err)
			continue
		}
		issued++
		e.logger.Info("schedule fired",
			"schedule_id", s.ID, "device_id", t.DeviceID, "switch_id", t.SwitchID,
			"desired", desired, "outcome", out.Status)
	}
	return issued
}

// Create validates and stores a new schedule. ID and timestamps are set
// here.
func (e *Executor) Create(ctx context.Context, s *Schedule) (*Schedule, error) {
	if err := e.check(s); err != nil {
		return nil, err
	}
	next := s.Clone()
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	now := e.now().UTC()
	next.CreatedAt = now
	next.UpdatedAt = now
	next.LastFiredState = FiredUnknown

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[next.ID]; exists {
		return nil, fmt.Errorf("%w: id %q already exists", ErrInvalidSchedule, next.ID)
	}
	if err := e.repo.Create(ctx, next); err != nil {
		return nil, err
	}
	e.entries[next.ID] = &entry{sched: next}
	return next.Clone(), nil
}

// Update replaces a schedule's definition. The fired state resets so the
// next tick re-derives it from current switch state.
func (e *Executor) Update(ctx context.Context, s *Schedule) (*Schedule, error) {
	if err := e.check(s); err != nil {
		return nil, err
	}
	en, err := e.get(s.ID)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	next := s.Clone()
	next.CreatedAt = en.sched.CreatedAt
	next.UpdatedAt = e.now().UTC()
	next.LastFiredState = FiredUnknown
	if err := e.repo.Update(ctx, next); err != nil {
		return nil, err
	}
	en.sched = next
	return next.Clone(), nil
}

// Delete removes a schedule.
func (e *Executor) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[id]; !ok {
		return ErrScheduleNotFound
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	delete(e.entries, id)
	return nil
}

// Get returns a copy of one schedule.
func (e *Executor) Get(id string) (*Schedule, error) {
	en, err := e.get(id)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.sched.Clone(), nil
}

// List returns copies of every schedule ordered by name.
func (e *Executor) List() []Schedule {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		entries = append(entries, en)
	}
	e.mu.RUnlock()

	out := make([]Schedule, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		out = append(out, *en.sched.Clone())
		en.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// check validates shape and that every target exists.
func (e *Executor) check(s *Schedule) error {
	if err := Validate(s); err != nil {
		return err
	}
	for _, t := range s.Targets {
		if _, err := e.states.Switch(t.DeviceID, t.SwitchID); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, device.ErrSwitchNotFound) {
				return fmt.Errorf("%w: %s/%s", ErrInvalidTarget, t.DeviceID, t.SwitchID)
			}
			return err
		}
	}
	return nil
}

func (e *Executor) get(id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.entries[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return en, nil
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
