package device

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errStoreDown = errors.New("store down")

// memRepo is an in-memory Repository with switchable failures.
type memRepo struct {
	mu      sync.Mutex
	devices map[string]*Device
	history []HistoryEntry

	failSave        bool
	failSwitchState bool
	statusUpdates   int
}

func newMemRepo() *memRepo {
	return &memRepo{devices: make(map[string]*Device)}
}

func (m *memRepo) List(context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) Get(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (m *memRepo) Save(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errStoreDown
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *memRepo) SaveSwitchState(_ context.Context, deviceID string, sw Switch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSwitchState {
		return errStoreDown
	}
	d, ok := m.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	idx := d.switchIndex(sw.ID)
	if idx < 0 {
		return ErrSwitchNotFound
	}
	d.Switches[idx] = sw
	m.history = append(m.history, HistoryEntry{
		ID: int64(len(m.history) + 1), DeviceID: deviceID, SwitchID: sw.ID,
		State: sw.State, Seq: sw.LastUpdateSeq, Source: sw.LastSource, CreatedAt: sw.UpdatedAt,
	})
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id string, status Status, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	d.LastSeen = lastSeen
	m.statusUpdates++
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *memRepo) History(_ context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].DeviceID == deviceID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

// fakeTransport records pushed commands.
type fakeTransport struct {
	name string
	mu   sync.Mutex
	sent []PushCommand
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(_ context.Context, cmd PushCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

// recordingSink collects every event it receives.
type recordingSink struct {
	mu           sync.Mutex
	changes      []StateChange
	connectivity []ConnectivityChange
}

func (s *recordingSink) SwitchChanged(c StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

func (s *recordingSink) ConnectivityChanged(c ConnectivityChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectivity = append(s.connectivity, c)
}

func (s *recordingSink) Changes() []StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StateChange(nil), s.changes...)
}

func (s *recordingSink) Connectivity() []ConnectivityChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnectivityChange(nil), s.connectivity...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testMAC = "a4:cf:12:0b:88:01"

func twoSwitches() []SwitchDefinition {
	manual := 14
	return []SwitchDefinition{
		{ID: "relay1", OutputPin: 4, ManualPin: &manual, ManualMode: ManualModeMaintained},
		{ID: "relay2", OutputPin: 5},
	}
}
