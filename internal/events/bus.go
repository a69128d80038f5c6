// Package events implements herdctl's in-memory pub/sub event bus: a small
// registry of named listeners invoked synchronously, in registration order,
// on the emitting goroutine (spec §4.1 "Event bus").
package events

import (
	"sync"
	"time"
)

// Kind enumerates the herdctl event catalogue (spec §4.1).
type Kind string

const (
	Initialized      Kind = "initialized"
	Started          Kind = "started"
	Stopped          Kind = "stopped"
	Error            Kind = "error"
	ConfigReloaded   Kind = "config:reloaded"
	AgentStarted     Kind = "agent:started"
	AgentStopped     Kind = "agent:stopped"
	ScheduleTriggered Kind = "schedule:triggered"
	ScheduleSkipped  Kind = "schedule:skipped"
	JobCreated       Kind = "job:created"
	JobQueued        Kind = "job:queued"
	JobOutput        Kind = "job:output"
	JobCompleted     Kind = "job:completed"
	JobFailed        Kind = "job:failed"
	JobCancelled     Kind = "job:cancelled"
	JobForked        Kind = "job:forked"
	CapacityAvailable Kind = "capacity:available"

	// Legacy aliases kept for backward compatibility with the source
	// system's event names (spec §4.1).
	LegacyScheduleTrigger  Kind = "schedule:trigger"
	LegacyScheduleComplete Kind = "schedule:complete"
	LegacyScheduleError    Kind = "schedule:error"
)

// Event is a single typed occurrence on the bus. Data is the payload built
// at each emit site (a map[string]any keyed by field name).
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Data      any
}

// Listener receives events synchronously on the emitting goroutine. A
// listener that panics does not prevent other listeners from running (the
// bus recovers per-listener), matching spec §4.1's "exceptions raised by
// handlers do not block other handlers".
type Listener func(Event)

// Bus is a thread-safe, synchronous-dispatch pub/sub hub.
//
// Grounded on pkg/devclaw/copilot/events.go's EventBus: a sync.Map of
// listeners keyed by an incrementing id, Subscribe returning an unsubscribe
// closure, and Emit fanning out synchronously to every listener.
type Bus struct {
	mu        sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{listeners: make(map[uint64]Listener)}
}

// Subscribe registers fn for every event and returns an unsubscribe func.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// SubscribeKind registers fn only for events whose Kind matches one of kinds.
func (b *Bus) SubscribeKind(fn Listener, kinds ...Kind) func() {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return b.Subscribe(func(e Event) {
		if want[e.Kind] {
			fn(e)
		}
	})
}

// Emit dispatches an event to every currently registered listener, in
// registration order. Listeners are snapshotted under the lock and then
// invoked outside it, so a listener that emits another event (depth-first
// re-entrancy, spec §4.1) does not deadlock.
func (b *Bus) Emit(kind Kind, data any) {
	if data == nil {
		data = struct{}{}
	}
	e := Event{Kind: kind, Timestamp: time.Now(), Data: data}

	b.mu.Lock()
	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	// Deterministic dispatch order: registration order via ascending id.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		b.dispatchSafely(fn, e)
	}
}

func (b *Bus) dispatchSafely(fn Listener, e Event) {
	defer func() {
		recover() //nolint:errcheck // a misbehaving subscriber must not break the bus
	}()
	fn(e)
}
