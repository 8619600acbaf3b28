package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ScanStarted   Type = "scan.started"
	ScanCompleted Type = "scan.completed"
	FileCorrupted Type = "file.corrupted"
	FileChanged   Type = "file.changed"
	FileRemoved   Type = "file.removed"
)

// Event represents something that happened during a scan or watch.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Path returns the "path" data field, or "" when absent.
func (e Event) Path() string {
	p, _ := e.Data["path"].(string)
	return p
}

// Handler is a function that processes an event.
type Handler func(Event)

// Bus is an in-process event bus backed by a buffered channel. Handlers run
// one at a time on the goroutine that called Start.
type Bus struct {
	ch       chan Event
	mu       sync.RWMutex
	subs     map[Type][]Handler
	logger   *slog.Logger
	done     chan struct{}
	finished chan struct{}
	stopped  bool
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:       make(chan Event, bufSize),
		subs:     make(map[Type][]Handler),
		logger:   logger,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish sends an event without blocking; it drops with a warning if the
// buffer is full. Used for informational events.
func (b *Bus) Publish(e Event) {
	stamp(&e)
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type))
	}
}

// Send delivers an event, waiting for buffer space until ctx is done. Used
// for events that must not be lost, such as watcher file changes.
func (b *Bus) Send(ctx context.Context, e Event) error {
	stamp(&e)
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stamp(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// Start begins draining the channel and dispatching events to subscribers.
// Call this in a goroutine. It blocks until Stop is called and the buffer
// has been drained.
func (b *Bus) Start() {
	defer close(b.finished)
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop signals the bus to stop and waits until Start has dispatched every
// buffered event, so handlers have run before the process exits. Stop must
// only be called after Start has been launched.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
	b.mu.Unlock()
	<-b.finished
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
