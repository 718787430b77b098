// Package bus is the in-process broadcast channel used to tell other
// surfaces that a collection changed.
//
// Publish never blocks: every subscriber owns a bounded queue drained by its
// own goroutine, and events that do not fit are dropped for that subscriber.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"lipstalk/internal/logging"
)

// Topic names a broadcast channel.
type Topic string

const (
	// TopicTranscriptsChanged carries the action and record key; subscribers re-list.
	TopicTranscriptsChanged Topic = "transcripts.changed"
	// TopicClipsChanged carries the action and clip name.
	TopicClipsChanged Topic = "clips.changed"
	// TopicAttemptFailed carries the attempt id and failure reason.
	TopicAttemptFailed Topic = "attempt.failed"
	// TopicCaptureDevice carries the action and device node of a camera hotplug.
	TopicCaptureDevice Topic = "capture.device"
)

const defaultQueueSize = 16

// Event is a single published notification.
type Event struct {
	Topic  Topic
	At     time.Time
	Fields map[string]string
}

// Field returns a named field or "".
func (e Event) Field(key string) string {
	return e.Fields[key]
}

// Handler receives events on the subscriber's goroutine.
type Handler func(Event)

// Publisher is the side of the bus the pipeline and stores depend on.
type Publisher interface {
	Publish(topic Topic, fields map[string]string)
}

// Bus fans events out to subscribers.
type Bus struct {
	logger    *slog.Logger
	queueSize int
	now       func() time.Time

	mu     sync.RWMutex
	subs   map[Topic]map[*subscriber]struct{}
	closed bool

	dropped atomic.Int64
}

type subscriber struct {
	queue chan Event
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Option customizes a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New returns an empty bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:    logging.NewComponentLogger(logger, "bus"),
		queueSize: defaultQueueSize,
		now:       time.Now,
		subs:      make(map[Topic]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topic. The returned function removes the
// subscription after delivering events already queued. It waits for the
// handler goroutine to exit and may be called more than once.
//
// A handler must not call its own unsubscribe function synchronously: the
// wait would block on the goroutine running the handler. Handlers that stop
// themselves do it with `go unsubscribe()`.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	sub := &subscriber{
		queue: make(chan Event, b.queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go b.deliver(topic, sub, handler)

	return func() {
		b.mu.Lock()
		delete(b.subs[topic], sub)
		b.mu.Unlock()
		sub.stop()
	}
}

func (b *Bus) deliver(topic Topic, sub *subscriber, handler Handler) {
	defer close(sub.done)
	for {
		select {
		case <-sub.quit:
			for {
				select {
				case ev := <-sub.queue:
					b.invoke(topic, handler, ev)
				default:
					return
				}
			}
		case ev := <-sub.queue:
			b.invoke(topic, handler, ev)
		}
	}
}

func (b *Bus) invoke(topic Topic, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus subscriber panicked",
				logging.String("topic", string(topic)),
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "bus_subscriber_panic"),
			)
		}
	}()
	handler(ev)
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

// Publish delivers an event to every current subscriber of topic without
// blocking. Subscribers whose queue is full miss the event.
func (b *Bus) Publish(topic Topic, fields map[string]string) {
	ev := Event{Topic: topic, At: b.now(), Fields: copyFields(fields)}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs[topic] {
		select {
		case sub.queue <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("bus event dropped for slow subscriber",
				logging.String("topic", string(topic)),
				logging.String(logging.FieldEventType, "bus_event_dropped"),
			)
		}
	}
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops every subscriber. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[Topic]map[*subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
