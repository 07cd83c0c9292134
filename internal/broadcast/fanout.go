package broadcast

import (
	"errors"
	"sync"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
)

// DefaultBufferSize is the live-event queue length per subscriber.
const DefaultBufferSize = 256

var (
	// ErrLagging ends a subscription whose queue overflowed.
	ErrLagging = errors.New("broadcast: observer lagging")

	// ErrClosed ends every subscription when the fanout shuts down.
	ErrClosed = errors.New("broadcast: fanout closed")
)

// Observer receives events on its subscription's goroutine.
type Observer interface {
	Notify(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Notify calls f(ev).
func (f ObserverFunc) Notify(ev Event) { f(ev) }

// StateSource provides the current state for subscribe snapshots.
// *device.Registry implements it.
type StateSource interface {
	List() []device.Device
}

// Logger defines the logging interface used by the broadcast package.
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

// Fanout delivers events to subscribers.
type Fanout struct {
	source StateSource
	buffer int
	logger Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is one observer's registration.
type Subscription struct {
	id       uint64
	name     string
	fanout   *Fanout
	observer Observer

	// Guarded by fanout.mu.
	ch      chan Event
	holding bool
	held    []Event
	err     error

	done chan struct{}
}

// New creates a fanout. source may be nil, in which case subscribers get
// no snapshot. bufferSize <= 0 selects DefaultBufferSize.
func New(source StateSource, bufferSize int) *Fanout {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Fanout{
		source: source,
		buffer: bufferSize,
		logger: noopLogger{},
		subs:   make(map[uint64]*Subscription),
	}
}

// SetLogger sets the logger for the fanout.
func (f *Fanout) SetLogger(logger Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// Subscribe registers obs. The snapshot is queued before any live event.
// name is used in logs only.
func (f *Fanout) Subscribe(name string, obs Observer) *Subscription {
	sub := &Subscription{
		name:     name,
		fanout:   f,
		observer: obs,
		holding:  true,
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.err = ErrClosed
		close(sub.done)
		return sub
	}
	f.nextID++
	sub.id = f.nextID
	f.subs[sub.id] = sub
	f.mu.Unlock()

	// Taken without f.mu: the registry calls into the fanout with device
	// locks held, and List acquires those locks.
	var snapshot []Event
	if f.source != nil {
		snapshot = snapshotEvents(f.source.List())
	}
	covered := make(map[string]uint64, len(snapshot))
	for _, ev := range snapshot {
		if ev.Switch != nil {
			covered[ev.Switch.DeviceID+"/"+ev.Switch.SwitchID] = ev.Switch.Seq
		}
	}

	f.mu.Lock()
	if _, ok := f.subs[sub.id]; !ok {
		f.mu.Unlock()
		close(sub.done)
		return sub
	}
	sub.ch = make(chan Event, len(snapshot)+len(sub.held)+f.buffer)
	for _, ev := range snapshot {
		sub.ch <- ev
	}
	for _, ev := range sub.held {
		if ev.Switch != nil && ev.Switch.Seq <= covered[ev.Switch.DeviceID+"/"+ev.Switch.SwitchID] {
			continue
		}
		sub.ch <- ev
	}
	sub.held = nil
	sub.holding = false
	f.mu.Unlock()

	go sub.run()

	f.logger.Debug("observer subscribed", "observer", name, "snapshot_events", len(snapshot))
	return sub
}

// Count returns the number of live subscriptions.
func (f *Fanout) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription with ErrClosed. Later Subscribe calls
// return an already-finished subscription.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		sub.endLocked(ErrClosed)
	}
}

// SwitchChanged implements device.ChangeSink.
func (f *Fanout) SwitchChanged(c device.StateChange) {
	f.publish(switchEvent(c))
}

// ConnectivityChanged implements device.ConnectivitySink.
func (f *Fanout) ConnectivityChanged(c device.ConnectivityChange) {
	f.publish(connectivityEvent(c))
}

// CommandCompleted implements command.Notifier.
func (f *Fanout) CommandCompleted(cmd command.Command) {
	f.publish(Event{Type: EventCommandResult, Command: &cmd})
}

// ConflictDetected implements command.Notifier.
func (f *Fanout) ConflictDetected(rec command.ConflictRecord) {
	f.publish(Event{Type: EventConflict, Conflict: &rec})
}

// Publish delivers an arbitrary event.
func (f *Fanout) Publish(ev Event) {
	f.publish(ev)
}

// publish never blocks: it runs under device locks.
func (f *Fanout) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		if sub.holding {
			sub.held = append(sub.held, ev)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(f.subs, id)
			sub.endLocked(ErrLagging)
			f.logger.Warn("dropping lagging observer", "observer", sub.name, "buffer", cap(sub.ch))
		}
	}
}

// endLocked closes the queue; the run goroutine drains what is left.
func (s *Subscription) endLocked(err error) {
	s.err = err
	if s.ch != nil {
		close(s.ch)
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	for ev := range s.ch {
		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.fanout.logger.Error("observer panicked", "observer", s.name, "event", ev.Type, "panic", r)
		}
	}()
	s.observer.Notify(ev)
}

// Unsubscribe ends the subscription. Events already queued are still
// delivered. It is safe to call more than once and from inside Notify.
func (s *Subscription) Unsubscribe() {
	f := s.fanout
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s.id]; !ok {
		return
	}
	delete(f.subs, s.id)
	s.endLocked(nil)
}

// Done is closed once the subscription has ended and drained.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: nil after Unsubscribe,
// ErrLagging or ErrClosed otherwise. Valid after Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	s.fanout.mu.Lock()
	defer s.fanout.mu.Unlock()
	return s.err
}
