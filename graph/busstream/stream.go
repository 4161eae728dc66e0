// Package busstream implements the per-execution Event Bus: an ordered,
// typed, multi-consumer stream with a monotonic sequence number, a
// replayable backlog, and bounded per-subscriber delivery. It is the
// execution-scoped broadcaster layered over the single-consumer
// graph/emit.Emitter — an Emitter is wired in as just one more
// subscriber.
package busstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/genflow/workflow-engine/graph/emit"
)

const defaultBufferSize = 1024

// Stream owns one execution's event history and live subscribers.
type Stream struct {
	executionID string
	seq         atomic.Uint64

	mu          sync.Mutex
	backlog     []emit.Event
	subscribers map[int]*subscriber
	nextSubID   int
	emitters    []emit.Emitter
	terminal    bool

	// onIdle, if set, is called once the stream is terminal and the
	// last subscriber has detached. The execution façade uses it to
	// garbage-collect finished streams.
	onIdle func()
}

type subscriber struct {
	ch      chan emit.Event
	dropped atomic.Uint64
}

// New creates a Stream for executionID. Any emitters passed in receive
// every event synchronously with Publish, in addition to subscribers
// created with Subscribe.
func New(executionID string, emitters ...emit.Emitter) *Stream {
	return &Stream{
		executionID: executionID,
		subscribers: make(map[int]*subscriber),
		emitters:    emitters,
	}
}

// OnIdle registers fn to run when the stream is terminal and no
// subscribers remain. At most one callback is supported; later calls
// replace earlier ones.
func (s *Stream) OnIdle(fn func()) {
	s.mu.Lock()
	s.onIdle = fn
	s.mu.Unlock()
}

// Publish assigns the next sequence number and timestamp to evt and
// delivers it to the backlog, every live subscriber, and every wired
// Emitter. Publish never blocks on a slow subscriber: a non-lifecycle
// event evicts at most one queued event and is itself dropped from that
// subscriber's channel (not the backlog) if there is still no room; a
// lifecycle event keeps evicting queued events until it fits.
func (s *Stream) Publish(evt emit.Event) emit.Event {
	evt.ExecutionID = s.executionID
	evt.Seq = s.seq.Add(1)
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	s.mu.Lock()
	s.backlog = append(s.backlog, evt)
	if emit.IsTerminal(evt.Kind) {
		s.terminal = true
	}
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	emitters := s.emitters
	s.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, evt)
	}
	for _, e := range emitters {
		e.Emit(evt)
	}
	return evt
}

func deliver(sub *subscriber, evt emit.Event) {
	if emit.IsLifecycle(evt.Kind) {
		// A lifecycle event is never dropped, but the producer must not
		// stall on a slow subscriber either: evict queued events until
		// the send succeeds.
		for {
			select {
			case sub.ch <- evt:
				return
			default:
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
				default:
				}
			}
		}
	}
	select {
	case sub.ch <- evt:
	default:
		// Drop-oldest: make room by draining one event, then retry once.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Terminal reports whether a terminal execution.* event has been
// published on this stream.
func (s *Stream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Subscription is a live handle into the stream. Events returns the
// backlog-then-live channel; Close releases the subscriber's buffer.
type Subscription struct {
	Events <-chan emit.Event
	id     int
	stream *Stream
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.stream.mu.Lock()
	var idle func()
	if sub, ok := s.stream.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.stream.subscribers, s.id)
		if s.stream.terminal && len(s.stream.subscribers) == 0 {
			idle = s.stream.onIdle
		}
	}
	s.stream.mu.Unlock()
	if idle != nil {
		idle()
	}
}

// Subscribe returns a Subscription whose channel first replays the
// current backlog (in seq order) and then receives new events as they
// are Published. The channel has capacity bufferSize (1024 if <= 0);
// events queued beyond that are dropped, oldest first, except
// lifecycle kinds.
func (s *Stream) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	s.mu.Lock()
	sub := &subscriber{ch: make(chan emit.Event, bufferSize)}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = sub
	backlog := make([]emit.Event, len(s.backlog))
	copy(backlog, s.backlog)
	s.mu.Unlock()

	for _, evt := range backlog {
		deliver(sub, evt)
	}

	return &Subscription{Events: sub.ch, id: id, stream: s}
}

// Backlog returns a copy of every event published so far, in seq order.
func (s *Stream) Backlog() []emit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emit.Event, len(s.backlog))
	copy(out, s.backlog)
	return out
}
