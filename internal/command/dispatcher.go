package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relay-core/internal/device"
)

const (
	// DefaultAckTimeout is how long a sent command waits for its ack.
	DefaultAckTimeout = 10 * time.Second

	// DefaultCommandGrace is how long terminal commands stay in memory.
	DefaultCommandGrace = 5 * time.Minute

	// scheduleAttempts bounds automatic retries of schedule commands.
	scheduleAttempts = 2
)

// Options tunes a Dispatcher. Zero values select the defaults.
type Options struct {
	AckTimeout   time.Duration
	CommandGrace time.Duration
	QueueTTL     time.Duration
	QueueCleanup time.Duration
}

// Dispatcher issues commands to devices and tracks them to completion.
//
// Every operation on a device runs under that device's lane lock, so a
// queue flush finishes before the next request for the device is handled.
// Devices never share a lock.
type Dispatcher struct {
	registry *device.Registry
	sync     *device.Synchronizer
	repo     Repository
	queue    *Queue
	logger   Logger
	now      func() time.Time

	ackTimeout time.Duration
	grace      time.Duration

	notifyMu sync.RWMutex
	notifier Notifier

	laneMu sync.Mutex
	lanes  map[string]*lane

	cmdMu    sync.RWMutex
	commands map[string]*tracked
}

type lane struct {
	deviceID string

	mu sync.Mutex
	// inflight is the sent, unacknowledged command per switch.
	inflight map[string]*tracked
}

// tracked pairs a command with its ack timer. cmd is guarded by
// Dispatcher.cmdMu, timer by the owning lane's lock.
type tracked struct {
	cmd   Command
	timer *time.Timer
}

// NewDispatcher creates a dispatcher and registers its queue flush as an
// online hook on the registry.
func NewDispatcher(registry *device.Registry, synchronizer *device.Synchronizer, repo Repository, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		sync:       synchronizer,
		repo:       repo,
		logger:     noopLogger{},
		now:        time.Now,
		ackTimeout: opts.AckTimeout,
		grace:      opts.CommandGrace,
		lanes:      make(map[string]*lane),
		commands:   make(map[string]*tracked),
	}
	if d.ackTimeout <= 0 {
		d.ackTimeout = DefaultAckTimeout
	}
	if d.grace <= 0 {
		d.grace = DefaultCommandGrace
	}
	d.queue = NewQueue(opts.QueueTTL, opts.QueueCleanup, d.expired)
	registry.OnOnline(d.Flush)
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetNotifier registers the receiver of command results and conflicts.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifyMu.Lock()
	d.notifier = n
	d.notifyMu.Unlock()
}

// SetClock replaces time.Now, for tests. Ack timers still use real time.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// QueueLen returns the number of requests waiting for offline devices.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// Toggle sets one switch. An online device gets the command immediately;
// an offline device's request is queued and reported as OutcomeQueued.
func (d *Dispatcher) Toggle(ctx context.Context, deviceID, switchID string, desired bool, source Source) (Outcome, error) {
	if err := d.validate(deviceID, switchID); err != nil {
		return Outcome{}, err
	}

	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	return d.toggleLocked(ctx, l, deviceID, switchID, desired, source, 1)
}

// BulkToggle sets every switch of each listed device. Devices are handled
// concurrently and independently; one device failing never aborts the rest.
func (d *Dispatcher) BulkToggle(ctx context.Context, deviceIDs []string, desired bool, source Source) BulkResult {
	ids := make([]string, 0, len(deviceIDs))
	seen := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	outcomes := make([]DeviceOutcome, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			outcomes[i] = d.toggleDevice(ctx, id, desired, source)
		})
	}
	wg.Wait()

	result := BulkResult{Devices: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case DeviceCommanded:
			result.CommandedDevices++
		case DeviceOffline:
			result.OfflineDevices++
		default:
			result.FailedDevices++
		}
	}
	return result
}

func (d *Dispatcher) toggleDevice(ctx context.Context, deviceID string, desired bool, source Source) DeviceOutcome {
	out := DeviceOutcome{DeviceID: deviceID, Status: DeviceCommanded}

	snap, err := d.registry.Snapshot(deviceID)
	if err != nil {
		out.Status = DeviceFailed
		out.Error = fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID).Error()
		return out
	}
	if len(snap.Switches) == 0 {
		out.Status = DeviceFailed
		out.Error = "device has no switches"
		return out
	}

	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sw := range snap.Switches {
		o, err := d.toggleLocked(ctx, l, deviceID, sw.ID, desired, source, 1)
		if err != nil {
			out.Status = DeviceFailed
			out.Error = err.Error()
			return out
		}
		if o.Status == OutcomeQueued {
			out.Status = DeviceOffline
		}
		out.Commands = append(out.Commands, o)
	}
	return out
}

func (d *Dispatcher) toggleLocked(ctx context.Context, l *lane, deviceID, switchID string, desired bool, source Source, attempt int) (Outcome, error) {
	info, err := d.registry.Lookup(deviceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	cmd := Command{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		SwitchID: switchID,
		Desired:  desired,
		Source:   source,
		Attempt:  attempt,
		Status:   StatusPending,
		IssuedAt: d.now(),
	}

	if !info.Online() {
		d.supersedeInflight(ctx, l, switchID)
		if err := d.repo.SaveCommand(ctx, cmd); err != nil {
			return Outcome{}, err
		}
		d.track(cmd)
		if prev, ok := d.queue.Put(cmd); ok {
			d.supersede(ctx, prev.ID)
		}
		d.logger.Info("command queued for offline device",
			"command_id", cmd.ID, "device_id", deviceID, "switch_id", switchID, "desired", desired)
		return Outcome{CommandID: cmd.ID, SwitchID: switchID, Status: OutcomeQueued}, nil
	}

	if prev, ok := d.queue.Drop(deviceID, switchID); ok {
		d.supersede(ctx, prev.ID)
	}
	d.flushLocked(ctx, l, deviceID, info.Transport)

	return d.sendLocked(ctx, l, info.Transport, d.track(cmd))
}

// sendLocked assigns a fresh seq, persists and pushes the command, then
// arms its ack timer.
func (d *Dispatcher) sendLocked(ctx context.Context, l *lane, transport device.Transport, t *tracked) (Outcome, error) {
	cmd := d.snapshot(t)
	d.supersedeInflight(ctx, l, cmd.SwitchID)

	seq, err := d.registry.NextSeq(cmd.DeviceID, cmd.SwitchID)
	if err != nil {
		d.complete(ctx, t, StatusFailed, err.Error())
		return Outcome{}, d.lookupError(err, cmd.DeviceID, cmd.SwitchID)
	}

	sentAt := d.now()
	sent, _ := d.mutate(t, func(c *Command) bool {
		c.Seq = seq
		c.Status = StatusSent
		c.SentAt = sentAt
		return true
	})
	if err := d.repo.SaveCommand(ctx, sent); err != nil {
		d.complete(ctx, t, StatusFailed, err.Error())
		return Outcome{}, err
	}

	push := device.PushCommand{CommandID: sent.ID, SwitchID: sent.SwitchID, State: sent.Desired, Seq: seq}
	if err := transport.Send(ctx, push); err != nil {
		d.complete(ctx, t, StatusFailed, err.Error())
		return Outcome{}, fmt.Errorf("%w: %s/%s: %w", ErrSendFailed, sent.DeviceID, sent.SwitchID, err)
	}

	deviceID, switchID, id := sent.DeviceID, sent.SwitchID, sent.ID
	t.timer = time.AfterFunc(d.ackTimeout, func() {
		d.ackExpired(deviceID, switchID, id)
	})
	l.inflight[switchID] = t

	d.logger.Debug("command sent",
		"command_id", id, "device_id", deviceID, "switch_id", switchID, "seq", seq, "transport", transport.Name())
	return Outcome{CommandID: id, SwitchID: switchID, Status: OutcomeSent, Seq: seq}, nil
}

// Flush resends every queued request for a device that is online. It is
// registered as a registry online hook.
func (d *Dispatcher) Flush(ctx context.Context, deviceID string) {
	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := d.registry.Lookup(deviceID)
	if err != nil || !info.Online() {
		return
	}
	d.flushLocked(ctx, l, deviceID, info.Transport)
}

func (d *Dispatcher) flushLocked(ctx context.Context, l *lane, deviceID string, transport device.Transport) {
	pending := d.queue.Take(deviceID)
	if len(pending) == 0 {
		return
	}
	d.logger.Info("flushing offline queue", "device_id", deviceID, "count", len(pending))

	for _, cmd := range pending {
		t := d.lookup(cmd.ID)
		if t == nil {
			t = d.track(cmd)
		}
		if _, err := d.sendLocked(ctx, l, transport, t); err != nil {
			d.logger.Warn("queued command not delivered",
				"command_id", cmd.ID, "device_id", deviceID, "switch_id", cmd.SwitchID, "error", err)
		}
	}
}

// HandleAck processes a device acknowledgement carrying the seq it applied.
// A matching in-flight command becomes acked; the reported state goes to
// the synchronizer either way.
func (d *Dispatcher) HandleAck(ctx context.Context, deviceID, switchID string, seq uint64, state bool) (bool, error) {
	if err := d.validate(deviceID, switchID); err != nil {
		return false, err
	}

	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	return d.ackLocked(ctx, l, switchID, seq, state)
}

func (d *Dispatcher) ackLocked(ctx context.Context, l *lane, switchID string, seq uint64, state bool) (bool, error) {
	source := device.SourceRemote
	var match *tracked
	if t := l.inflight[switchID]; t != nil {
		if cmd := d.snapshot(t); cmd.Seq == seq {
			match = t
			source = cmd.Source.switchSource()
		}
	}

	applied, err := d.sync.Apply(ctx, device.Update{
		DeviceID: l.deviceID,
		SwitchID: switchID,
		State:    state,
		Seq:      seq,
		Source:   source,
	})
	if err != nil {
		return false, err
	}

	if match != nil {
		match.timer.Stop()
		delete(l.inflight, switchID)
		d.complete(ctx, match, StatusAcked, "")
	}
	return applied, nil
}

// HandleStateReport processes a state report without a sequence number.
// A report matching an in-flight command's desired state acknowledges it,
// and is applied with a fresh seq if an earlier report overtook the command's.
// A report equal to the current state only refreshes the heartbeat.
// Anything else is applied as a system change with a fresh seq.
func (d *Dispatcher) HandleStateReport(ctx context.Context, deviceID, switchID string, state bool) error {
	if err := d.validate(deviceID, switchID); err != nil {
		return err
	}

	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if t := l.inflight[switchID]; t != nil {
		if cmd := d.snapshot(t); cmd.Desired == state {
			applied, err := d.ackLocked(ctx, l, switchID, cmd.Seq, state)
			if err != nil || applied {
				return err
			}
			// The command's seq was overtaken by an earlier report; the
			// device still confirms this state, so it must win.
			sw, err := d.registry.Switch(deviceID, switchID)
			if err != nil {
				return d.lookupError(err, deviceID, switchID)
			}
			if sw.State == state {
				return nil
			}
			_, err = d.sync.ApplyNext(ctx, deviceID, switchID, state, cmd.Source.switchSource())
			return err
		}
	}

	sw, err := d.registry.Switch(deviceID, switchID)
	if err != nil {
		return d.lookupError(err, deviceID, switchID)
	}
	if sw.State == state {
		return d.registry.Heartbeat(ctx, deviceID)
	}

	_, err = d.sync.ApplyNext(ctx, deviceID, switchID, state, device.SourceSystem)
	return err
}

// ackExpired runs on the ack timer goroutine.
func (d *Dispatcher) ackExpired(deviceID, switchID, id string) {
	l := d.lane(deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.inflight[switchID]
	if t == nil || d.snapshot(t).ID != id {
		return
	}
	delete(l.inflight, switchID)

	ctx := context.Background()
	if !d.complete(ctx, t, StatusFailed, "ack timeout") {
		return
	}
	cmd := d.snapshot(t)
	d.logger.Warn("command ack timed out",
		"command_id", cmd.ID, "device_id", deviceID, "switch_id", switchID, "seq", cmd.Seq, "attempt", cmd.Attempt)

	if cmd.Source.Kind == SourceSchedule && cmd.Attempt < scheduleAttempts {
		if _, err := d.toggleLocked(ctx, l, deviceID, switchID, cmd.Desired, cmd.Source, cmd.Attempt+1); err != nil {
			d.logger.Warn("schedule command retry failed", "command_id", cmd.ID, "error", err)
		}
	}
}

// expired is the queue's TTL hook.
func (d *Dispatcher) expired(cmd Command) {
	t := d.lookup(cmd.ID)
	if t == nil {
		return
	}
	if d.complete(context.Background(), t, StatusExpired, "offline queue ttl elapsed") {
		d.logger.Info("queued command expired", "command_id", cmd.ID, "device_id", cmd.DeviceID, "switch_id", cmd.SwitchID)
	}
}

// Command returns a command by ID from memory or, after it has been
// collected, from the repository.
func (d *Dispatcher) Command(ctx context.Context, id string) (Command, error) {
	if t := d.lookup(id); t != nil {
		return d.snapshot(t), nil
	}
	cmd, err := d.repo.GetCommand(ctx, id)
	if err != nil {
		return Command{}, err
	}
	return *cmd, nil
}

// Run collects terminal commands older than the grace period until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := min(d.grace, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.CollectGarbage(); n > 0 {
				d.logger.Debug("collected terminal commands", "count", n)
			}
		}
	}
}

// CollectGarbage drops terminal commands completed more than the grace
// period ago and returns how many it dropped.
func (d *Dispatcher) CollectGarbage() int {
	cutoff := d.now().Add(-d.grace)

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	n := 0
	for id, t := range d.commands {
		if t.cmd.Status.Terminal() && t.cmd.CompletedAt.Before(cutoff) {
			delete(d.commands, id)
			n++
		}
	}
	return n
}

func (d *Dispatcher) validate(deviceID, switchID string) error {
	if _, err := d.registry.Switch(deviceID, switchID); err != nil {
		return d.lookupError(err, deviceID, switchID)
	}
	return nil
}

func (d *Dispatcher) lookupError(err error, deviceID, switchID string) error {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	case errors.Is(err, device.ErrSwitchNotFound):
		return fmt.Errorf("%w: %s/%s", ErrUnknownSwitch, deviceID, switchID)
	}
	return err
}

func (d *Dispatcher) lane(deviceID string) *lane {
	d.laneMu.Lock()
	defer d.laneMu.Unlock()
	l, ok := d.lanes[deviceID]
	if !ok {
		l = &lane{deviceID: deviceID, inflight: make(map[string]*tracked)}
		d.lanes[deviceID] = l
	}
	return l
}

func (d *Dispatcher) track(cmd Command) *tracked {
	t := &tracked{cmd: cmd}
	d.cmdMu.Lock()
	d.commands[cmd.ID] = t
	d.cmdMu.Unlock()
	return t
}

func (d *Dispatcher) lookup(id string) *tracked {
	d.cmdMu.RLock()
	defer d.cmdMu.RUnlock()
	return d.commands[id]
}

func (d *Dispatcher) snapshot(t *tracked) Command {
	d.cmdMu.RLock()
	defer d.cmdMu.RUnlock()
	return t.cmd
}

// mutate applies fn to the command under cmdMu and returns the result.
func (d *Dispatcher) mutate(t *tracked, fn func(c *Command) bool) (Command, bool) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	changed := fn(&t.cmd)
	return t.cmd, changed
}

// complete moves a non-terminal command to a terminal status, persists it
// and notifies. It reports false if the command had already finished.
func (d *Dispatcher) complete(ctx context.Context, t *tracked, status Status, reason string) bool {
	at := d.now()
	cmd, changed := d.mutate(t, func(c *Command) bool {
		if c.Status.Terminal() {
			return false
		}
		c.Status = status
		c.Error = reason
		c.CompletedAt = at
		return true
	})
	if !changed {
		return false
	}

	if err := d.repo.SaveCommand(ctx, cmd); err != nil {
		d.logger.Warn("persisting command status failed", "command_id", cmd.ID, "status", status, "error", err)
	}

	d.notifyMu.RLock()
	n := d.notifier
	d.notifyMu.RUnlock()
	if n != nil {
		n.CommandCompleted(cmd)
	}
	return true
}

func (d *Dispatcher) supersede(ctx context.Context, id string) {
	if t := d.lookup(id); t != nil {
		d.complete(ctx, t, StatusSuperseded, "")
	}
}

func (d *Dispatcher) supersedeInflight(ctx context.Context, l *lane, switchID string) {
	t := l.inflight[switchID]
	if t == nil {
		return
	}
	t.timer.Stop()
	delete(l.inflight, switchID)
	d.complete(ctx, t, StatusSuperseded, "")
}

func (d *Dispatcher) notifyConflict(rec ConflictRecord) {
	d.notifyMu.RLock()
	n := d.notifier
	d.notifyMu.RUnlock()
	if n != nil {
		n.ConflictDetected(rec)
	}
}
