package controller

import (
	"fmt"
	"sync/atomic"
	"time"
)

// State is the controller's current processing state, advertised as a
// gauge (spec §4.3). Timer is an optional rate-and-time metric that wraps
// processing of events in this state; nil means no wrapping.
type State struct {
	Name  string
	Timer Timer
}

// Timer records the rate and duration of whatever f does.
type Timer interface {
	Time(f func() error) error
}

// Idle is the state the manager reports between events.
var Idle = State{Name: "Idle"}

// Event is anything that can be enqueued on a ControllerEventManager. State
// identifies which processing state the manager should report while this
// event is being handled.
type Event interface {
	State() State
}

type shutdownEvent struct{}

func (shutdownEvent) State() State { return State{Name: "ShutdownEventThread"} }

// ShutdownEventThread is the sentinel the event thread recognizes to exit
// its loop (spec §4.3). It is never passed to the processor.
var ShutdownEventThread Event = shutdownEvent{}

// QueuedEvent is a one-shot wrapper around an enqueued Event: exactly one
// of process or preempt ever runs for it, decided by a CAS on spent (spec
// §3, §4.3, §9 "Event preemption").
type QueuedEvent struct {
	Event         Event
	EnqueueTimeMs time.Time

	spent        atomic.Bool
	startedLatch chan struct{}
}

func newQueuedEvent(event Event, enqueueTime time.Time) *QueuedEvent {
	return &QueuedEvent{
		Event:         event,
		EnqueueTimeMs: enqueueTime,
		startedLatch:  make(chan struct{}),
	}
}

// process runs invoke(e.Event) iff this event has not already been spent by
// a concurrent preempt, CAS-claiming it first and releasing awaitProcessing
// waiters before invoke runs (spec §3 state machine).
func (q *QueuedEvent) process(invoke func(Event) error) (err error) {
	if !q.spent.CompareAndSwap(false, true) {
		return nil
	}
	close(q.startedLatch)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing event: %v", r)
		}
	}()
	return invoke(q.Event)
}

// preempt runs invoke(e.Event) iff this event has not already been spent by
// a concurrent process, following the same one-shot discipline as process.
func (q *QueuedEvent) preempt(invoke func(Event)) {
	if !q.spent.CompareAndSwap(false, true) {
		return
	}
	close(q.startedLatch)
	invoke(q.Event)
}

// AwaitProcessing blocks until either process or preempt has begun running
// for this event (spec §8 property 7).
func (q *QueuedEvent) AwaitProcessing() {
	<-q.startedLatch
}

// IsSpent reports whether process or preempt has already claimed this
// event.
func (q *QueuedEvent) IsSpent() bool {
	return q.spent.Load()
}
