package command

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultQueueTTL is how long a request waits for its device to reconnect.
const DefaultQueueTTL = time.Hour

// Queue holds at most one pending command per (device, switch) while the
// device is offline. A newer request replaces the older one. Entries older
// than the TTL are evicted by the cache janitor and reported through the
// expiry callback.
type Queue struct {
	mu       sync.Mutex
	items    *cache.Cache
	onExpire func(Command)
	next     uint64
}

type queued struct {
	cmd Command
	// order is the insertion counter; Take returns entries by it.
	order uint64
	// removed is set before an explicit delete so the eviction hook can
	// tell it apart from TTL expiry. It is read from the hook without q.mu.
	removed atomic.Bool
}

// NewQueue creates a queue whose entries live for ttl. The janitor runs
// every cleanup interval; onExpire, if set, receives each expired command.
func NewQueue(ttl, cleanup time.Duration, onExpire func(Command)) *Queue {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	q := &Queue{
		items:    cache.New(ttl, cleanup),
		onExpire: onExpire,
	}
	q.items.OnEvicted(q.evicted)
	return q
}

func queueKey(deviceID, switchID string) string {
	return deviceID + "/" + switchID
}

// Put stores cmd, replacing any entry for the same switch. The replaced
// command is returned so the caller can mark it superseded. An entry past
// its TTL is reported through the expiry callback first and never returned.
func (q *Queue) Put(cmd Command) (replaced Command, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Set would overwrite an expired entry the janitor has not reached
	// without firing the eviction hook.
	q.items.DeleteExpired()

	key := queueKey(cmd.DeviceID, cmd.SwitchID)
	if prev, found := q.items.Get(key); found {
		old := prev.(*queued) //nolint:forcetypeassert // only *queued is stored
		old.removed.Store(true)
		replaced, ok = old.cmd, true
	}
	q.next++
	q.items.Set(key, &queued{cmd: cmd, order: q.next}, cache.DefaultExpiration)
	return replaced, ok
}

// Take removes and returns every live entry for a device, oldest first.
func (q *Queue) Take(deviceID string) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var entries []*queued
	var keys []string
	for key, item := range q.items.Items() {
		e := item.Object.(*queued) //nolint:forcetypeassert // only *queued is stored
		if e.cmd.DeviceID == deviceID {
			entries = append(entries, e)
			keys = append(keys, key)
		}
	}
	for i, key := range keys {
		entries[i].removed.Store(true)
		q.items.Delete(key)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].order < entries[j].order
	})
	out := make([]Command, len(entries))
	for i, e := range entries {
		out[i] = e.cmd
	}
	return out
}

// Drop removes the entry for one switch, if any.
func (q *Queue) Drop(deviceID, switchID string) (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := queueKey(deviceID, switchID)
	v, found := q.items.Get(key)
	if !found {
		return Command{}, false
	}
	e := v.(*queued) //nolint:forcetypeassert // only *queued is stored
	e.removed.Store(true)
	q.items.Delete(key)
	return e.cmd, true
}

// Peek returns the live entry for one switch without removing it.
func (q *Queue) Peek(deviceID, switchID string) (Command, bool) {
	v, found := q.items.Get(queueKey(deviceID, switchID))
	if !found {
		return Command{}, false
	}
	return v.(*queued).cmd, true //nolint:forcetypeassert // only *queued is stored
}

// HasDevice reports whether any live entry targets the device.
func (q *Queue) HasDevice(deviceID string) bool {
	for _, item := range q.items.Items() {
		if item.Object.(*queued).cmd.DeviceID == deviceID { //nolint:forcetypeassert // only *queued is stored
			return true
		}
	}
	return false
}

// Len returns the number of live entries.
func (q *Queue) Len() int {
	return len(q.items.Items())
}

// Sweep evicts expired entries now instead of waiting for the janitor.
func (q *Queue) Sweep() {
	q.items.DeleteExpired()
}

func (q *Queue) evicted(_ string, v any) {
	e, ok := v.(*queued)
	if !ok || e.removed.Load() {
		return
	}
	if q.onExpire != nil {
		q.onExpire(e.cmd)
	}
}
