package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType is the closed tag set the Event Bus fans out (spec.md 4.D).
type EventType string

const (
	EventTaskSetup            EventType = "task:setup"
	EventTaskStarted          EventType = "task:started"
	EventTaskCompleted        EventType = "task:completed"
	EventTaskAborted          EventType = "task:aborted"
	EventTaskValidated        EventType = "task:validated"
	EventTaskValidationError  EventType = "task:validation_error"
	EventAgentStep            EventType = "agent:step"
	EventAgentProcessing      EventType = "agent:processing"
	EventAgentReasoned        EventType = "agent:reasoned"
	EventAgentStatus          EventType = "agent:status"
	EventAgentAction          EventType = "agent:action"
	EventAgentWaiting         EventType = "agent:waiting"
	EventAgentExtracted       EventType = "agent:extracted"
	EventBrowserNavigated     EventType = "browser:navigated"
	EventBrowserActionStarted EventType = "browser:action_started"
	EventBrowserActionDone    EventType = "browser:action_completed"
	EventBrowserScreenshot    EventType = "browser:screenshot_captured"
	EventAIGeneration         EventType = "ai:generation"
	EventAIGenerationError    EventType = "ai:generation_error"
	EventDebugCompression     EventType = "system:debug_compression"
)

// Event is one message delivered by the Event Bus.
type Event struct {
	Type      EventType
	Time      time.Time
	Sequence  uint64
	Iteration int
	Data      map[string]any
}

// EventListener receives Events published on the bus. Listeners must not
// panic; EventBus.Emit recovers and drops a panicking listener's delivery
// rather than letting one bad subscriber take down the producer.
type EventListener func(Event)

// EventBus is a single-producer/multi-consumer synchronous fan-out (spec.md
// 4.D, 5). Delivery to each listener happens in emission order; a slow
// listener stalls the producer, matching the teacher's synchronous
// EventEmitter/sink design in spirit but narrowed to this spec's closed tag
// set.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	all       []EventListener
	sequence  uint64
	disposed  bool
}

// NewEventBus creates an empty Event Bus.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[EventType][]EventListener),
	}
}

// OnEvent subscribes listener to one event type.
func (b *EventBus) OnEvent(t EventType, listener EventListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.listeners[t] = append(b.listeners[t], listener)
}

// OnAny subscribes listener to every event type.
func (b *EventBus) OnAny(listener EventListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.all = append(b.all, listener)
}

// Emit publishes an event of the given type with the given data, in
// emission order, to every matching listener.
func (b *EventBus) Emit(t EventType, iteration int, data map[string]any) {
	b.mu.RLock()
	if b.disposed {
		b.mu.RUnlock()
		return
	}
	seq := atomic.AddUint64(&b.sequence, 1)
	specific := append([]EventListener(nil), b.listeners[t]...)
	all := append([]EventListener(nil), b.all...)
	b.mu.RUnlock()

	event := Event{Type: t, Time: time.Now(), Sequence: seq, Iteration: iteration, Data: data}
	for _, l := range specific {
		deliver(l, event)
	}
	for _, l := range all {
		deliver(l, event)
	}
}

func deliver(l EventListener, e Event) {
	defer func() { _ = recover() }()
	l(e)
}

// Dispose clears the listener registry. A second Dispose is a no-op (spec.md
// invariant 8).
func (b *EventBus) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.disposed = true
	b.listeners = nil
	b.all = nil
}

// StatsSink accumulates iteration/action/error counters by subscribing to an
// EventBus. It mirrors the teacher's StatsCollector (agent/event_emitter.go)
// adapted to this spec's event set.
type StatsSink struct {
	mu          sync.Mutex
	Iterations  int
	Actions     int
	Errors      int
	Reasonings  int
	Validations int
}

// Attach subscribes the sink to the relevant event types on bus.
func (s *StatsSink) Attach(bus *EventBus) {
	bus.OnEvent(EventAgentStep, func(Event) {
		s.mu.Lock()
		s.Iterations++
		s.mu.Unlock()
	})
	bus.OnEvent(EventAgentAction, func(Event) {
		s.mu.Lock()
		s.Actions++
		s.mu.Unlock()
	})
	bus.OnEvent(EventAIGenerationError, func(Event) {
		s.mu.Lock()
		s.Errors++
		s.mu.Unlock()
	})
	bus.OnEvent(EventAgentReasoned, func(Event) {
		s.mu.Lock()
		s.Reasonings++
		s.mu.Unlock()
	})
	bus.OnEvent(EventTaskValidated, func(Event) {
		s.mu.Lock()
		s.Validations++
		s.mu.Unlock()
	})
}
