// Package events provides a bounded, in-process event bus used to observe
// job progress, log lines, and state transitions without coupling the
// scheduler to any particular UI (spec §9: "event-emitter progress -> bounded
// channel with drop-oldest on saturation").
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the shape of an Event.
type EventType string

const (
	EventProgress      EventType = "progress"
	EventLog           EventType = "log"
	EventStateChange   EventType = "state_change"
	EventApprovalNeeded EventType = "approval_needed"
	EventConfigChanged EventType = "config_changed"
)

// LogLevel mirrors zerolog's levels for convenience methods below.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ProgressEvent reports transfer or encode progress for one job/stage
// (spec §6: "Progress events stream { jobId, stage, percent, speed?, fps?, eta? }").
type ProgressEvent struct {
	BaseEvent
	JobID    int64
	Stage    string // "download", "encode", "upload"
	Percent  float64
	BytesCur int64
	BytesTot int64
	Speed    float64 // bytes/sec
	FPS      float64
	ETA      time.Duration
}

// LogEvent carries a structured log line alongside job context.
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Stage   string
	JobID   int64
	Error   error
}

// StateChangeEvent reports a job's state machine transition (spec §5:
// "state transitions are totally ordered and each is persisted before its
// side effect is externally observable").
type StateChangeEvent struct {
	BaseEvent
	JobID        int64
	OldState     string
	NewState     string
	ErrorMessage string
}

// ApprovalNeededEvent fires when a job reaches awaiting_approval (spec §4.7).
type ApprovalNeededEvent struct {
	BaseEvent
	JobID int64
}

// ConfigChangedEvent fires when the engine's config snapshot is replaced
// (spec §9: "reload is modeled as discard adapter + rebuild").
type ConfigChangedEvent struct {
	BaseEvent
}

const (
	defaultBuffer = 1024
	maxBuffer     = 16384
)

// EventBus fans out published events to subscribers over bounded channels.
// When a subscriber's channel is full, the OLDEST queued event is dropped to
// make room for the new one, so observers always see the most recent state
// even under backpressure (spec §5: "the last observed value per stage is
// authoritative").
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewEventBus creates a bus with the given per-subscriber buffer size.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if bufferSize > maxBuffer {
		bufferSize = maxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel of events matching the given type.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event type.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// dropOldestSend pushes event onto ch, evicting the oldest queued value first
// if the buffer is saturated.
func dropOldestSend(ch chan Event, event Event, dropped *atomic.Int64) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case <-ch:
			dropped.Add(1)
		default:
			// Raced with a consumer draining the channel; retry the send.
		}
	}
}

// Publish fans an event out to all matching subscribers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, ch := range eb.subscribers[event.Type()] {
		dropOldestSend(ch, event, &eb.dropped)
	}
	for _, ch := range eb.all {
		dropOldestSend(ch, event, &eb.dropped)
	}
}

// PublishProgress is a convenience wrapper around Publish for ProgressEvent
// (spec §6: "Progress events stream { jobId, stage, percent, speed?, fps?,
// eta? }"). Callers that have no meaning for a field (e.g. encode has no
// byte count, a transfer stage has no fps) pass its zero value.
func (eb *EventBus) PublishProgress(jobID int64, stage string, percent float64, bytesCur, bytesTot int64, speed, fps float64, eta time.Duration) {
	eb.Publish(&ProgressEvent{
		BaseEvent: BaseEvent{EventType: EventProgress, Time: time.Now()},
		JobID:     jobID,
		Stage:     stage,
		Percent:   percent,
		BytesCur:  bytesCur,
		BytesTot:  bytesTot,
		Speed:     speed,
		FPS:       fps,
		ETA:       eta,
	})
}

// PublishLog is a convenience wrapper around Publish for LogEvent.
func (eb *EventBus) PublishLog(level LogLevel, message string, jobID int64, stage string) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		Message:   message,
		Stage:     stage,
		JobID:     jobID,
	})
}

// PublishStateChange is a convenience wrapper around Publish for StateChangeEvent.
func (eb *EventBus) PublishStateChange(jobID int64, oldState, newState, errMsg string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent:    BaseEvent{EventType: EventStateChange, Time: time.Now()},
		JobID:        jobID,
		OldState:     oldState,
		NewState:     newState,
		ErrorMessage: errMsg,
	})
}

// Unsubscribe removes ch from eventType's subscriber list.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			subs[i] = subs[len(subs)-1]
			eb.subscribers[eventType] = subs[:len(subs)-1]
			return
		}
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, chans := range eb.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// DroppedEventCount returns the number of events evicted for backpressure.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.dropped.Load()
}
