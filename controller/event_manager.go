// Package controller implements the controller's single-consumer event
// loop: a bounded-by-memory FIFO, one dedicated event thread, and a
// preemption primitive that discards queued work so a higher-priority
// event can run first (spec §4.3).
package controller

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shoalbroker/shoal/log"
)

// DefaultDequeueTimeout is the poll timeout used once the queue-time
// histogram has recorded at least one sample, per spec §4.3.
const DefaultDequeueTimeout = 5 * time.Minute

// Processor dispatches events dequeued by the manager. process(event) runs
// for events that reach the front of the queue normally; preempt(event)
// runs for events discarded by ClearAndPut. Exactly one of the two is
// invoked per event (spec §4.3, §8 property 7).
type Processor interface {
	Process(event Event) error
	Preempt(event Event)
}

// Metrics is the opaque sink for the queue-time histogram and the
// controller-state gauge (spec §1 Non-goals, §4.3, §9 "Metric lifecycle").
type Metrics interface {
	SetState(name string)
	RecordQueueTime(d time.Duration)
	ResetQueueTimeHistogram()
	// HasQueueTimeSamples reports whether RecordQueueTime has been called
	// since the last reset, driving the dequeue policy of §4.3.
	HasQueueTimeSamples() bool
}

// eventQueue is an unbounded FIFO with blocking take/poll, built on a mutex
// plus a single-slot notify channel instead of sync.Cond so poll can honor
// a timeout (spec §4.3 pollFromEventQueue).
type eventQueue struct {
	mu       sync.Mutex
	items    []*QueuedEvent
	notifyCh chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notifyCh: make(chan struct{}, 1)}
}

func (q *eventQueue) signal() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *eventQueue) push(e *QueuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) tryPop() (*QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

// drainAll empties the queue and returns everything in FIFO order.
func (q *eventQueue) drainAll() []*QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *eventQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// take blocks until an event is available. Only one goroutine (the event
// thread) ever calls take/poll, so consuming notifyCh here cannot race with
// another consumer.
func (q *eventQueue) take() *QueuedEvent {
	for {
		if e, ok := q.tryPop(); ok {
			return e
		}
		<-q.notifyCh
	}
}

// poll blocks until an event is available or timeout elapses.
// A notify token left over from an event that was already popped does not
// end the wait early.
func (q *eventQueue) poll(timeout time.Duration) (*QueuedEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if e, ok := q.tryPop(); ok {
			return e, true
		}
		select {
		case <-q.notifyCh:
		case <-timer.C:
			return nil, false
		}
	}
}

// ControllerEventManager wraps the single-consumer event thread, the
// ReentrantLock-equivalent producer serialization, and the bounded-by-
// memory FIFO (spec §4.3).
type ControllerEventManager struct {
	logger         log.Logger
	processor      Processor
	metrics        Metrics
	dequeueTimeout time.Duration

	putMu sync.Mutex
	queue *eventQueue

	state atomic.Pointer[State]

	startOnce sync.Once
	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewControllerEventManager constructs a manager. Start must be called
// before events are processed; events may be enqueued before Start, they
// will simply wait on the queue.
func NewControllerEventManager(processor Processor, metrics Metrics, logger log.Logger) *ControllerEventManager {
	m := &ControllerEventManager{
		logger:         logger,
		processor:      processor,
		metrics:        metrics,
		dequeueTimeout: DefaultDequeueTimeout,
		queue:          newEventQueue(),
		doneCh:         make(chan struct{}),
	}
	m.state.Store(&Idle)
	return m
}

// WithDequeueTimeout overrides the default poll-with-timeout duration used
// by dequeue once the queue-time histogram has a sample (spec §4.3). A
// non-positive d leaves the default in place.
func (m *ControllerEventManager) WithDequeueTimeout(d time.Duration) *ControllerEventManager {
	if d > 0 {
		m.dequeueTimeout = d
	}
	return m
}

// Put enqueues event under the producer lock, stamped with the current
// wall-clock time, and returns the QueuedEvent handle (spec §4.3).
func (m *ControllerEventManager) Put(event Event) *QueuedEvent {
	m.putMu.Lock()
	defer m.putMu.Unlock()
	qe := newQueuedEvent(event, time.Now())
	m.queue.push(qe)
	return qe
}

// ClearAndPut atomically drains every currently-queued event, preempts
// each in original order, then enqueues event. No other Put may interleave
// between the drain and the enqueue (spec §4.3, §5, §8 property 8).
func (m *ControllerEventManager) ClearAndPut(event Event) *QueuedEvent {
	m.putMu.Lock()
	defer m.putMu.Unlock()

	drained := m.queue.drainAll()
	for _, qe := range drained {
		qe.preempt(m.processor.Preempt)
	}

	qe := newQueuedEvent(event, time.Now())
	m.queue.push(qe)
	return qe
}

// IsEmpty reports whether the queue currently holds no events.
func (m *ControllerEventManager) IsEmpty() bool {
	return m.queue.isEmpty()
}

// State returns the manager's current processing state name.
func (m *ControllerEventManager) State() State {
	return *m.state.Load()
}

// Start launches the event thread. Safe to call once; later calls are
// no-ops.
func (m *ControllerEventManager) Start() {
	m.startOnce.Do(func() {
		go m.loop()
	})
}

// Close initiates shutdown: it enqueues ShutdownEventThread ahead of
// whatever is currently queued (preempting it, per ClearAndPut), then
// blocks until the event thread has observed the sentinel and exited
// (spec §4.3).
func (m *ControllerEventManager) Close() {
	m.closeOnce.Do(func() {
		m.ClearAndPut(ShutdownEventThread)
		<-m.doneCh
	})
}

func (m *ControllerEventManager) setState(s State) {
	m.state.Store(&s)
	if m.metrics != nil {
		m.metrics.SetState(s.Name)
	}
}

func (m *ControllerEventManager) loop() {
	defer close(m.doneCh)

	for {
		qe := m.dequeue()

		if _, isShutdown := qe.Event.(shutdownEvent); isShutdown {
			return
		}

		m.setState(qe.Event.State())
		if m.metrics != nil {
			m.metrics.RecordQueueTime(time.Since(qe.EnqueueTimeMs))
		}

		if err := qe.process(m.invokeProcess); err != nil {
			m.logger.Error("controller event processing failed", log.Error("error", err))
		}

		m.setState(Idle)
	}
}

// dequeue implements §4.3's pollFromEventQueue: once the histogram has any
// samples, poll with a timeout; on timeout, reset the histogram (so it
// reflects only the current quiescent period) and fall back to a blocking
// take. With no samples yet, just take.
func (m *ControllerEventManager) dequeue() *QueuedEvent {
	if m.metrics == nil || !m.metrics.HasQueueTimeSamples() {
		return m.queue.take()
	}
	if qe, ok := m.queue.poll(m.dequeueTimeout); ok {
		return qe
	}
	m.metrics.ResetQueueTimeHistogram()
	return m.queue.take()
}

func (m *ControllerEventManager) invokeProcess(e Event) error {
	if timer := e.State().Timer; timer != nil {
		return timer.Time(func() error { return m.processor.Process(e) })
	}
	return m.processor.Process(e)
}
