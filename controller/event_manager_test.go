package controller_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shoalbroker/shoal/controller"
	"github.com/shoalbroker/shoal/log"
)

type fakeEvent struct {
	name string
}

func (e fakeEvent) State() controller.State { return controller.State{Name: e.name} }

type recordingProcessor struct {
	mu         sync.Mutex
	processed  []string
	preempted  []string
	processErr error
}

func (p *recordingProcessor) Process(e controller.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, e.(fakeEvent).name)
	return p.processErr
}

func (p *recordingProcessor) Preempt(e controller.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preempted = append(p.preempted, e.(fakeEvent).name)
}

func (p *recordingProcessor) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...), append([]string(nil), p.preempted...)
}

func newManager(p *recordingProcessor) *controller.ControllerEventManager {
	return controller.NewControllerEventManager(p, nil, log.NewRecording())
}

func TestPutProcessesInOrder(t *testing.T) {
	p := &recordingProcessor{}
	m := newManager(p)
	m.Start()
	defer m.Close()

	e1 := m.Put(fakeEvent{"e1"})
	e2 := m.Put(fakeEvent{"e2"})
	e3 := m.Put(fakeEvent{"e3"})

	e1.AwaitProcessing()
	e2.AwaitProcessing()
	e3.AwaitProcessing()

	require.Eventually(t, func() bool {
		processed, _ := p.snapshot()
		return len(processed) == 3
	}, time.Second, time.Millisecond)

	processed, preempted := p.snapshot()
	require.Equal(t, []string{"e1", "e2", "e3"}, processed)
	require.Empty(t, preempted)
}

// S6: clearAndPut preemption.
func TestClearAndPutPreemptsQueuedEvents(t *testing.T) {
	p := &recordingProcessor{}
	m := newManager(p)
	// Deliberately do not Start() yet, so nothing races with the drain.
	m.Put(fakeEvent{"e1"})
	m.Put(fakeEvent{"e2"})
	m.Put(fakeEvent{"e3"})

	m.ClearAndPut(fakeEvent{"shutdown-like"})
	m.Start()
	defer m.Close()

	require.Eventually(t, func() bool {
		processed, _ := p.snapshot()
		return len(processed) == 1
	}, time.Second, time.Millisecond)

	processed, preempted := p.snapshot()
	require.Equal(t, []string{"shutdown-like"}, processed)
	require.Equal(t, []string{"e1", "e2", "e3"}, preempted)
}

func TestEventIsSpentExactlyOnce(t *testing.T) {
	p := &recordingProcessor{}
	m := newManager(p)
	qe := m.Put(fakeEvent{"e1"})
	m.Start()
	defer m.Close()

	qe.AwaitProcessing()
	require.Eventually(t, func() bool { return qe.IsSpent() }, time.Second, time.Millisecond)
	require.True(t, qe.IsSpent())
}

func TestCloseDrainsAndStops(t *testing.T) {
	p := &recordingProcessor{}
	m := newManager(p)
	m.Start()
	m.Put(fakeEvent{"e1"})
	m.Close()

	require.True(t, m.IsEmpty())
	require.Equal(t, controller.Idle, m.State())
}
