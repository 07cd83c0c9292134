package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/infrastructure/database"
	"github.com/nerrad567/relay-core/migrations"
)

const (
	testMAC    = "a4:cf:12:0b:88:01"
	testID     = "relay-a4cf120b8801"
	testSecret = "board-secret"
)

// core wires a real registry, dispatcher and resolver over in-memory SQLite.
type core struct {
	ctx        context.Context
	registry   *device.Registry
	dispatcher *command.Dispatcher
	resolver   *command.Resolver
	handler    *Handler
}

func newCore(t *testing.T) *core {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.FS))

	devices := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(devices)
	require.NoError(t, registry.LoadAll(ctx))
	syncer := device.NewSynchronizer(registry, devices, nil)

	commands := command.NewSQLiteRepository(db.DB)
	dispatcher := command.NewDispatcher(registry, syncer, commands, command.Options{})
	resolver := command.NewResolver(dispatcher, commands, command.DefaultConflictWindow)

	return &core{
		ctx:        ctx,
		registry:   registry,
		dispatcher: dispatcher,
		resolver:   resolver,
		handler:    NewHandler(registry, dispatcher, resolver),
	}
}

func (c *core) state(t *testing.T, switchID string) device.Switch {
	t.Helper()
	sw, err := c.registry.Switch(testID, switchID)
	require.NoError(t, err)
	return sw
}

func (c *core) online() bool {
	info, err := c.registry.Lookup(testID)
	return err == nil && info.Online()
}

func identifyJSON() string {
	return `{"type":"identify","mac":"` + testMAC + `","deviceSecret":"` + testSecret + `","name":"Kitchen",` +
		`"switches":[{"id":"relay1","outputPin":4,"manualPin":14},{"id":"relay2","outputPin":5}]}`
}

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// fakeBus records publishes and lets tests deliver messages to subscribers.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func(topic string, payload []byte) error
	out      []published
	fail     error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(string, []byte) error)}
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.out = append(b.out, published{topic, string(payload), retained})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[topic]; !ok {
		return errors.New("not subscribed")
	}
	delete(b.handlers, topic)
	return nil
}

// Deliver routes topic to the matching single-level wildcard subscription.
func (b *fakeBus) Deliver(topic, payload string) error {
	parts := strings.Split(topic, "/")
	parts[2] = "+"
	b.mu.Lock()
	h := b.handlers[strings.Join(parts, "/")]
	b.mu.Unlock()
	if h == nil {
		return errors.New("no subscriber for " + topic)
	}
	return h(topic, []byte(payload))
}

func (b *fakeBus) Published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.out...)
}

func (b *fakeBus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func testPush(commandID, switchID string, state bool, seq uint64) device.PushCommand {
	return device.PushCommand{CommandID: commandID, SwitchID: switchID, State: state, Seq: seq}
}
