package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedCommand(id, deviceID, switchID string, desired bool) Command {
	return Command{ID: id, DeviceID: deviceID, SwitchID: switchID, Desired: desired, Status: StatusPending}
}

func TestQueue_PutReplacesPerSwitch(t *testing.T) {
	q := NewQueue(time.Hour, time.Minute, nil)

	_, replaced := q.Put(queuedCommand("c1", "dev1", "relay1", true))
	assert.False(t, replaced)

	prev, replaced := q.Put(queuedCommand("c2", "dev1", "relay1", false))
	require.True(t, replaced)
	assert.Equal(t, "c1", prev.ID)

	q.Put(queuedCommand("c3", "dev1", "relay2", true))
	q.Put(queuedCommand("c4", "dev2", "relay1", true))

	assert.Equal(t, 3, q.Len())
	assert.True(t, q.HasDevice("dev1"))
	assert.False(t, q.HasDevice("dev3"))

	got, ok := q.Peek("dev1", "relay1")
	require.True(t, ok)
	assert.False(t, got.Desired)
}

func TestQueue_TakeReturnsDeviceEntriesInOrder(t *testing.T) {
	q := NewQueue(time.Hour, time.Minute, nil)
	q.Put(queuedCommand("c1", "dev1", "relay2", true))
	q.Put(queuedCommand("c2", "dev2", "relay1", true))
	q.Put(queuedCommand("c3", "dev1", "relay1", false))

	taken := q.Take("dev1")
	require.Len(t, taken, 2)
	assert.Equal(t, "c1", taken[0].ID)
	assert.Equal(t, "c3", taken[1].ID)

	assert.Empty(t, q.Take("dev1"))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Drop(t *testing.T) {
	q := NewQueue(time.Hour, time.Minute, nil)
	q.Put(queuedCommand("c1", "dev1", "relay1", true))

	cmd, ok := q.Drop("dev1", "relay1")
	require.True(t, ok)
	assert.Equal(t, "c1", cmd.ID)

	_, ok = q.Drop("dev1", "relay1")
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestQueue_ExpiryReportsDroppedCommands(t *testing.T) {
	var mu sync.Mutex
	var expired []string
	q := NewQueue(30*time.Millisecond, 10*time.Millisecond, func(cmd Command) {
		mu.Lock()
		expired = append(expired, cmd.ID)
		mu.Unlock()
	})

	q.Put(queuedCommand("old", "dev1", "relay1", true))
	q.Put(queuedCommand("taken", "dev2", "relay1", true))
	q.Put(queuedCommand("replaced", "dev3", "relay1", true))
	q.Put(queuedCommand("newer", "dev3", "relay1", false))
	q.Take("dev2")

	assert.Eventually(t, func() bool {
		return q.Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(expired) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"old", "newer"}, expired)
}

func TestDispatcher_QueuedCommandExpires(t *testing.T) {
	h := newHarness(t, Options{QueueTTL: 20 * time.Millisecond, QueueCleanup: 5 * time.Millisecond})
	link := newFakeTransport()
	id := h.connect(t, macA, link)
	h.registry.Detach(h.ctx, id, link)

	out, err := h.dispatcher.Toggle(h.ctx, id, "relay1", true, UserSource(""))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(h.events.Results(StatusExpired)) == 1
	}, time.Second, 5*time.Millisecond)

	cmd, err := h.repo.GetCommand(h.ctx, out.CommandID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, cmd.Status)

	fresh := newFakeTransport()
	h.reconnect(t, macA, fresh)
	assert.Empty(t, fresh.Sent())
}

func TestQueue_PutOverExpiredEntryReportsExpiry(t *testing.T) {
	var expired []string
	q := NewQueue(20*time.Millisecond, time.Hour, func(cmd Command) {
		expired = append(expired, cmd.ID)
	})

	q.Put(queuedCommand("stale", "dev1", "relay1", true))
	time.Sleep(50 * time.Millisecond)

	replaced, ok := q.Put(queuedCommand("fresh", "dev1", "relay1", false))
	assert.False(t, ok, "expired entry must not be reported as replaced")
	assert.Empty(t, replaced.ID)
	assert.Equal(t, []string{"stale"}, expired)

	got, ok := q.Peek("dev1", "relay1")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.ID)
}
