package device

import (
	"context"
	"fmt"
)

// Synchronizer is the only writer of switch state. It accepts an update
// only when its seq is strictly greater than the switch's last applied seq,
// which makes redelivery and reordering from either transport harmless.
type Synchronizer struct {
	registry *Registry
	repo     Repository
	sink     ChangeSink
	logger   Logger
}

// NewSynchronizer creates a synchronizer over the registry's devices.
// sink may be nil.
func NewSynchronizer(registry *Registry, repo Repository, sink ChangeSink) *Synchronizer {
	return &Synchronizer{
		registry: registry,
		repo:     repo,
		sink:     sink,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the synchronizer.
func (s *Synchronizer) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Apply applies u if u.Seq is newer than the switch's stored seq.
//
// Returns applied=false with a nil error for stale or duplicate updates.
// The new state is persisted before memory changes; on persistence failure
// the error is returned and the in-memory switch is untouched. Accepted
// changes are handed to the sink while the device lock is held, so sinks
// observe each device's changes in seq order.
func (s *Synchronizer) Apply(ctx context.Context, u Update) (bool, error) {
	e, err := s.registry.get(u.DeviceID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return s.applyLocked(ctx, e, u)
}

// ApplyNext applies a state report that carries no sequence number by
// allocating the next seq for the switch under the same lock. It returns the
// seq used.
func (s *Synchronizer) ApplyNext(ctx context.Context, deviceID, switchID string, state bool, source Source) (uint64, error) {
	e, err := s.registry.get(deviceID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seq, err := e.nextSeqLocked(switchID)
	if err != nil {
		return 0, err
	}
	if _, err := s.applyLocked(ctx, e, Update{
		DeviceID: deviceID,
		SwitchID: switchID,
		State:    state,
		Seq:      seq,
		Source:   source,
	}); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Synchronizer) applyLocked(ctx context.Context, e *entry, u Update) (bool, error) {
	idx := e.device.switchIndex(u.SwitchID)
	if idx < 0 {
		return false, fmt.Errorf("%w: %s/%s", ErrSwitchNotFound, u.DeviceID, u.SwitchID)
	}
	current := e.device.Switches[idx]

	if u.Seq <= current.LastUpdateSeq {
		s.logger.Debug("stale switch update ignored",
			"device_id", u.DeviceID,
			"switch_id", u.SwitchID,
			"seq", u.Seq,
			"last_seq", current.LastUpdateSeq,
			"source", u.Source,
		)
		return false, nil
	}

	at := u.At
	if at.IsZero() {
		at = s.registry.now()
	}

	next := current
	next.State = u.State
	next.LastUpdateSeq = u.Seq
	next.LastSource = u.Source
	next.UpdatedAt = at

	if err := s.repo.SaveSwitchState(ctx, u.DeviceID, next); err != nil {
		return false, fmt.Errorf("persisting switch %s/%s: %w", u.DeviceID, u.SwitchID, err)
	}
	e.device.Switches[idx] = next

	if s.sink != nil {
		s.sink.SwitchChanged(StateChange{
			DeviceID: u.DeviceID,
			SwitchID: u.SwitchID,
			State:    u.State,
			Previous: current.State,
			Seq:      u.Seq,
			Source:   u.Source,
			At:       at,
		})
	}
	return true, nil
}
