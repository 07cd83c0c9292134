package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/infrastructure/database"
	"github.com/nerrad567/relay-core/migrations"
)

var errLinkDown = errors.New("link down")

type fakeTransport struct {
	name string

	mu   sync.Mutex
	sent []device.PushCommand
	fail error
}

func newFakeTransport() *fakeTransport { return &fakeTransport{name: "push"} }

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(_ context.Context, cmd device.PushCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Sent() []device.PushCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.PushCommand(nil), f.sent...)
}

func (f *fakeTransport) Last(t *testing.T) device.PushCommand {
	t.Helper()
	sent := f.Sent()
	require.NotEmpty(t, sent, "no command pushed")
	return sent[len(sent)-1]
}

// recorder implements device.ChangeSink and Notifier.
type recorder struct {
	mu        sync.Mutex
	changes   []device.StateChange
	results   []Command
	conflicts []ConflictRecord
}

func (r *recorder) SwitchChanged(c device.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) CommandCompleted(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, cmd)
}

func (r *recorder) ConflictDetected(rec ConflictRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, rec)
}

func (r *recorder) Changes() []device.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.StateChange(nil), r.changes...)
}

func (r *recorder) Results(status Status) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.results {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) Conflicts() []ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConflictRecord(nil), r.conflicts...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type harness struct {
	ctx        context.Context
	registry   *device.Registry
	sync       *device.Synchronizer
	repo       *SQLiteRepository
	dispatcher *Dispatcher
	resolver   *Resolver
	events     *recorder
	clock      *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	events := &recorder{}

	devices := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(devices)
	registry.SetClock(clock.Now)
	require.NoError(t, registry.LoadAll(ctx))
	syncer := device.NewSynchronizer(registry, devices, events)

	repo := NewSQLiteRepository(db.DB)
	dispatcher := NewDispatcher(registry, syncer, repo, opts)
	dispatcher.SetClock(clock.Now)
	dispatcher.SetNotifier(events)

	return &harness{
		ctx:        ctx,
		registry:   registry,
		sync:       syncer,
		repo:       repo,
		dispatcher: dispatcher,
		resolver:   NewResolver(dispatcher, repo, DefaultConflictWindow),
		events:     events,
		clock:      clock,
	}
}

// connect identifies a two-switch board on transport and returns its ID.
func (h *harness) connect(t *testing.T, mac string, transport device.Transport) string {
	t.Helper()
	manual := 14
	dev, err := h.registry.Identify(h.ctx, device.Identification{
		MAC:    mac,
		Secret: "board-secret",
		Switches: []device.SwitchDefinition{
			{ID: "relay1", OutputPin: 4, ManualPin: &manual},
			{ID: "relay2", OutputPin: 5},
		},
	}, transport)
	require.NoError(t, err)
	return dev.ID
}

// reconnect re-identifies a known board without changing its switches.
func (h *harness) reconnect(t *testing.T, mac string, transport device.Transport) {
	t.Helper()
	_, err := h.registry.Identify(h.ctx, device.Identification{MAC: mac, Secret: "board-secret"}, transport)
	require.NoError(t, err)
}

func (h *harness) state(t *testing.T, deviceID, switchID string) device.Switch {
	t.Helper()
	sw, err := h.registry.Switch(deviceID, switchID)
	require.NoError(t, err)
	return sw
}

func (h *harness) command(t *testing.T, id string) Command {
	t.Helper()
	cmd, err := h.dispatcher.Command(h.ctx, id)
	require.NoError(t, err)
	return cmd
}

const (
	macA = "a4:cf:12:0b:88:01"
	macB = "a4:cf:12:0b:88:02"
	macC = "a4:cf:12:0b:88:03"
)
