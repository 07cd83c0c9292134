package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultHeartbeatTimeout is how long a device may stay silent before the
// sweeper marks it offline.
const DefaultHeartbeatTimeout = 90 * time.Second

// Logger defines the logging interface used across the device package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OnlineHook runs after a device transitions to online, outside any
// registry lock. The dispatcher uses it to flush the offline queue.
type OnlineHook func(ctx context.Context, deviceID string)

// Registry tracks devices, their switches and the transport each device is
// reachable on.
//
// The map lock guards membership only. Each device has its own lock; all
// reads and writes of a device (including switch state applied by the
// Synchronizer) happen under it, so devices never contend with each other.
type Registry struct {
	repo   Repository
	logger Logger
	now    func() time.Time

	heartbeatTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	byMAC   map[string]string

	hookMu       sync.RWMutex
	connectivity ConnectivitySink
	onlineHooks  []OnlineHook
}

type entry struct {
	mu     sync.Mutex
	device *Device
	handle Transport
	// issued is the highest seq handed out per switch by NextSeq.
	issued map[string]uint64
}

// NewRegistry creates an empty registry. Call LoadAll before serving.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:             repo,
		logger:           noopLogger{},
		now:              time.Now,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		entries:          make(map[string]*entry),
		byMAC:            make(map[string]string),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetHeartbeatTimeout overrides DefaultHeartbeatTimeout.
func (r *Registry) SetHeartbeatTimeout(d time.Duration) {
	if d > 0 {
		r.heartbeatTimeout = d
	}
}

// SetClock replaces time.Now, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SetConnectivitySink registers the receiver of online/offline transitions.
func (r *Registry) SetConnectivitySink(sink ConnectivitySink) {
	r.hookMu.Lock()
	r.connectivity = sink
	r.hookMu.Unlock()
}

// OnOnline appends a hook run after every offline→online transition.
func (r *Registry) OnOnline(hook OnlineHook) {
	r.hookMu.Lock()
	r.onlineHooks = append(r.onlineHooks, hook)
	r.hookMu.Unlock()
}

// LoadAll fills the registry from the repository. Every device starts
// offline regardless of its persisted status, since no transport survives
// a restart.
func (r *Registry) LoadAll(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*entry, len(devices))
	r.byMAC = make(map[string]string, len(devices))
	for i := range devices {
		d := devices[i].DeepCopy()
		d.Status = StatusOffline
		d.Transport = ""
		r.entries[d.ID] = &entry{device: d, issued: make(map[string]uint64)}
		r.byMAC[d.MAC] = d.ID
	}

	r.logger.Info("device registry loaded", "count", len(devices))
	return nil
}

// Identify authenticates a device handshake, marks the device online and
// records handle as its transport.
//
// An unknown MAC is registered on first contact and its secret becomes the
// device's credential. A known MAC must present the same secret, else
// ErrInvalidSecret. A non-empty switch list replaces the switch definitions,
// preserving state and seq of switches whose ID survives.
func (r *Registry) Identify(ctx context.Context, ident Identification, handle Transport) (*Device, error) {
	mac, err := NormaliseMAC(ident.MAC)
	if err != nil {
		return nil, err
	}
	if len(ident.Switches) > 0 {
		if err := ValidateSwitches(ident.Switches); err != nil {
			return nil, err
		}
	}

	e, err := r.entryForIdentify(ctx, mac, ident)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	d := e.device

	if err := r.checkSecret(d, ident.Secret); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := r.now()
	changed := false
	if ident.Name != "" && ident.Name != d.Name {
		changed = true
	}
	if len(ident.Switches) > 0 {
		changed = true
	}

	if changed {
		next := d.DeepCopy()
		if ident.Name != "" {
			next.Name = ident.Name
		}
		if len(ident.Switches) > 0 {
			next.Switches = mergeSwitches(d.Switches, ident.Switches)
		}
		next.Status = StatusOnline
		next.LastSeen = now
		next.UpdatedAt = now
		if err := r.repo.Save(ctx, next); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("saving device: %w", err)
		}
		next.Transport = d.Transport
		e.device = next
		d = next
	}

	wasOnline := d.Status == StatusOnline && e.handle != nil
	e.handle = handle
	d.LastSeen = now
	d.Transport = transportName(handle)

	if !wasOnline {
		d.Status = StatusOnline
		if !changed {
			r.persistStatus(ctx, d)
		}
		r.emitConnectivity(d, true)
	}
	snapshot := d.DeepCopy()
	e.mu.Unlock()

	r.logger.Info("device identified", "device_id", snapshot.ID, "mac", mac, "transport", snapshot.Transport)

	if !wasOnline {
		r.runOnlineHooks(ctx, snapshot.ID)
	}
	return snapshot, nil
}

// entryForIdentify returns the entry for mac, creating and persisting a new
// device if the MAC has never been seen.
func (r *Registry) entryForIdentify(ctx context.Context, mac string, ident Identification) (*entry, error) {
	r.mu.RLock()
	id, known := r.byMAC[mac]
	e := r.entries[id]
	r.mu.RUnlock()
	if known && e != nil {
		return e, nil
	}

	hash, err := HashSecret(ident.Secret)
	if err != nil {
		return nil, err
	}

	now := r.now()
	d := &Device{
		ID:         IDForMAC(mac),
		MAC:        mac,
		Name:       ident.Name,
		Status:     StatusOffline,
		SecretHash: hash,
		Switches:   mergeSwitches(nil, ident.Switches),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if d.Name == "" {
		d.Name = d.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another handshake for the same MAC may have won the race.
	if id, ok := r.byMAC[mac]; ok {
		return r.entries[id], nil
	}
	if err := r.repo.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}
	e = &entry{device: d, issued: make(map[string]uint64)}
	r.entries[d.ID] = e
	r.byMAC[mac] = d.ID

	r.logger.Info("device registered", "device_id", d.ID, "mac", mac, "switches", len(d.Switches))
	return e, nil
}

func (r *Registry) checkSecret(d *Device, secret string) error {
	ok, err := VerifySecret(secret, d.SecretHash)
	if err != nil {
		r.logger.Error("stored device secret unreadable", "device_id", d.ID, "error", err)
		return ErrInvalidSecret
	}
	if !ok {
		r.logger.Warn("device identification rejected", "device_id", d.ID)
		return ErrInvalidSecret
	}
	return nil
}

// Heartbeat refreshes a device's last-seen time.
func (r *Registry) Heartbeat(_ context.Context, deviceID string) error {
	e, err := r.get(deviceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.device.LastSeen = r.now()
	e.mu.Unlock()
	return nil
}

// MarkOffline marks a device offline and drops its transport handle.
// Outstanding commands are left to resolve through their ack timeout.
func (r *Registry) MarkOffline(ctx context.Context, deviceID string) error {
	e, err := r.get(deviceID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.markOfflineLocked(ctx, e, "requested")
	return nil
}

// Detach marks the device offline only if handle is still its current
// transport. A session closing after the device reconnected elsewhere is
// ignored.
func (r *Registry) Detach(ctx context.Context, deviceID string, handle Transport) {
	e, err := r.get(deviceID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != handle {
		return
	}
	r.markOfflineLocked(ctx, e, "transport closed")
}

func (r *Registry) markOfflineLocked(ctx context.Context, e *entry, reason string) {
	e.handle = nil
	d := e.device
	if d.Status == StatusOffline {
		return
	}
	d.Status = StatusOffline
	d.Transport = ""
	r.persistStatus(ctx, d)
	r.emitConnectivity(d, false)
	r.logger.Info("device offline", "device_id", d.ID, "reason", reason)
}

// persistStatus records a connectivity transition. Failure is logged only:
// the in-memory status is authoritative while the process runs.
func (r *Registry) persistStatus(ctx context.Context, d *Device) {
	if err := r.repo.UpdateStatus(ctx, d.ID, d.Status, d.LastSeen); err != nil {
		r.logger.Warn("persisting device status failed", "device_id", d.ID, "status", d.Status, "error", err)
	}
}

// Lookup returns connection info or ErrDeviceNotFound.
func (r *Registry) Lookup(deviceID string) (ConnectionInfo, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return ConnectionInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ConnectionInfo{
		DeviceID:  e.device.ID,
		MAC:       e.device.MAC,
		Status:    e.device.Status,
		Transport: e.handle,
		LastSeen:  e.device.LastSeen,
	}, nil
}

// ResolveMAC maps a hardware address to a device ID.
func (r *Registry) ResolveMAC(mac string) (string, error) {
	norm, err := NormaliseMAC(mac)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMAC[norm]
	if !ok {
		return "", ErrDeviceNotFound
	}
	return id, nil
}

// Snapshot returns a deep copy of one device.
func (r *Registry) Snapshot(deviceID string) (*Device, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device.DeepCopy(), nil
}

// List returns copies of every device ordered by name then ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Device, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, *e.device.DeepCopy())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Switch returns a copy of one switch.
func (r *Registry) Switch(deviceID, switchID string) (Switch, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return Switch{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.device.switchIndex(switchID)
	if idx < 0 {
		return Switch{}, fmt.Errorf("%w: %s/%s", ErrSwitchNotFound, deviceID, switchID)
	}
	return e.device.Switches[idx], nil
}

// SwitchByPin finds the switch driven by an output pin, or failing that the
// one whose manual input is on pin.
func (r *Registry) SwitchByPin(deviceID string, pin int) (Switch, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return Switch{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sw := range e.device.Switches {
		if sw.OutputPin == pin {
			return sw, nil
		}
	}
	for _, sw := range e.device.Switches {
		if sw.ManualPin != nil && *sw.ManualPin == pin {
			return sw, nil
		}
	}
	return Switch{}, fmt.Errorf("%w: %s pin %d", ErrSwitchNotFound, deviceID, pin)
}

// NextSeq allocates the next sequence number for a switch: one above both
// the last applied seq and the last seq handed out.
func (r *Registry) NextSeq(deviceID, switchID string) (uint64, error) {
	e, err := r.get(deviceID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeqLocked(switchID)
}

func (e *entry) nextSeqLocked(switchID string) (uint64, error) {
	idx := e.device.switchIndex(switchID)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrSwitchNotFound, e.device.ID, switchID)
	}
	next := max(e.issued[switchID], e.device.Switches[idx].LastUpdateSeq) + 1
	e.issued[switchID] = next
	return next, nil
}

// Delete removes a device permanently.
func (r *Registry) Delete(ctx context.Context, deviceID string) error {
	e, err := r.get(deviceID)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	r.mu.Lock()
	delete(r.entries, deviceID)
	delete(r.byMAC, e.device.MAC)
	r.mu.Unlock()

	e.mu.Lock()
	if e.device.Status == StatusOnline {
		e.device.Status = StatusOffline
		e.handle = nil
		r.emitConnectivity(e.device, false)
	}
	e.mu.Unlock()

	r.logger.Info("device deleted", "device_id", deviceID)
	return nil
}

// History returns the persisted switch change log for a device.
func (r *Registry) History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if _, err := r.get(deviceID); err != nil {
		return nil, err
	}
	return r.repo.History(ctx, deviceID, limit)
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Run marks silent devices offline every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep marks offline every online device not heard from within the
// heartbeat timeout and returns how many it marked.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	cutoff := r.now().Add(-r.heartbeatTimeout)
	marked := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.device.Status == StatusOnline && e.device.LastSeen.Before(cutoff) {
			r.markOfflineLocked(ctx, e, "heartbeat timeout")
			marked++
		}
		e.mu.Unlock()
	}
	return marked
}

func (r *Registry) get(deviceID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return e, nil
}

func (r *Registry) emitConnectivity(d *Device, online bool) {
	r.hookMu.RLock()
	sink := r.connectivity
	r.hookMu.RUnlock()
	if sink == nil {
		return
	}
	sink.ConnectivityChanged(ConnectivityChange{
		DeviceID:  d.ID,
		MAC:       d.MAC,
		Online:    online,
		Transport: d.Transport,
		At:        r.now(),
	})
}

func (r *Registry) runOnlineHooks(ctx context.Context, deviceID string) {
	r.hookMu.RLock()
	hooks := append([]OnlineHook(nil), r.onlineHooks...)
	r.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, deviceID)
	}
}

func transportName(t Transport) string {
	if t == nil {
		return ""
	}
	return t.Name()
}
