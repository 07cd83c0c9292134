package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relay-core/internal/device"
)

// DefaultConflictWindow is how long after sending a command a contradicting
// manual toggle counts as a conflict.
const DefaultConflictWindow = 10 * time.Second

// Resolver reconciles physical toggles with outstanding remote commands.
// The physical state always wins.
type Resolver struct {
	dispatcher *Dispatcher
	repo       Repository
	window     time.Duration
	logger     Logger
}

// NewResolver creates a resolver sharing the dispatcher's in-flight view.
func NewResolver(dispatcher *Dispatcher, repo Repository, window time.Duration) *Resolver {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &Resolver{
		dispatcher: dispatcher,
		repo:       repo,
		window:     window,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// HandleManualReport applies a physical toggle. If a command for the same
// switch was sent within the conflict window and wanted the other state,
// that command is superseded and a ConflictRecord is stored, broadcast and
// returned. The manual state is applied with source manual in every case
// except a repeated report of the current state with no conflict.
func (r *Resolver) HandleManualReport(ctx context.Context, rep ManualReport) (*ConflictRecord, error) {
	d := r.dispatcher

	l := d.lane(rep.DeviceID)
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, err := r.resolveSwitch(rep)
	if err != nil {
		return nil, err
	}

	now := d.now()
	var rec *ConflictRecord
	if t := l.inflight[sw.ID]; t != nil {
		cmd := d.snapshot(t)
		if cmd.Desired != rep.NewState && now.Sub(cmd.SentAt) <= r.window {
			t.timer.Stop()
			delete(l.inflight, sw.ID)
			d.complete(ctx, t, StatusSuperseded, "manual override")

			rec = &ConflictRecord{
				ID:            uuid.NewString(),
				DeviceID:      rep.DeviceID,
				SwitchID:      sw.ID,
				CommandID:     cmd.ID,
				Type:          ConflictManualOverride,
				RemoteDesired: cmd.Desired,
				ManualActual:  rep.NewState,
				Resolution:    ResolutionManualApplied,
				ResponseTime:  now.Sub(cmd.IssuedAt),
				DetectedBy:    rep.DetectedBy,
				PhysicalPin:   rep.PhysicalPin,
				CreatedAt:     now,
			}
		}
	}

	if rec == nil && sw.State == rep.NewState {
		r.logger.Debug("manual report matches current state",
			"device_id", rep.DeviceID, "switch_id", sw.ID, "state", rep.NewState)
		return nil, d.registry.Heartbeat(ctx, rep.DeviceID)
	}

	seq, err := d.sync.ApplyNext(ctx, rep.DeviceID, sw.ID, rep.NewState, device.SourceManual)
	if err != nil {
		return rec, err
	}

	if rec == nil {
		r.logger.Info("manual toggle applied",
			"device_id", rep.DeviceID, "switch_id", sw.ID, "state", rep.NewState, "seq", seq)
		return nil, nil
	}

	r.logger.Info("manual override conflict",
		"device_id", rep.DeviceID,
		"switch_id", sw.ID,
		"command_id", rec.CommandID,
		"remote_desired", rec.RemoteDesired,
		"manual_actual", rec.ManualActual,
		"response_ms", rec.ResponseTime.Milliseconds(),
	)
	d.notifyConflict(*rec)
	if err := r.repo.SaveConflict(ctx, *rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *Resolver) resolveSwitch(rep ManualReport) (device.Switch, error) {
	d := r.dispatcher
	var sw device.Switch
	var err error
	switch {
	case rep.SwitchID != "":
		sw, err = d.registry.Switch(rep.DeviceID, rep.SwitchID)
	case rep.GPIO >= 0:
		sw, err = d.registry.SwitchByPin(rep.DeviceID, rep.GPIO)
	default:
		return device.Switch{}, fmt.Errorf("%w: no switch or gpio", ErrInvalidReport)
	}
	if err != nil {
		return device.Switch{}, d.lookupError(err, rep.DeviceID, rep.SwitchID)
	}
	return sw, nil
}

// Conflicts lists recorded conflicts, newest first.
func (r *Resolver) Conflicts(ctx context.Context, filter ConflictFilter) ([]ConflictRecord, error) {
	return r.repo.ListConflicts(ctx, filter)
}
