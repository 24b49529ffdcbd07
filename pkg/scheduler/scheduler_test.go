package scheduler

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/logging"
)

func newTestPool(t *testing.T, min, max uint32) *Pool {
	t.Helper()
	logger := logging.NewLogger(logging.LevelError, os.Stderr)
	p := New(config.WorkersConfiguration{Min: min, Max: max}, logger)
	t.Cleanup(p.Shutdown)
	return p
}

func blockingTask(groupID string, started, release chan struct{}) Task {
	return Task{
		GroupID: groupID,
		Run: func(ctx context.Context, cancelled <-chan struct{}) {
			close(started)
			<-release
		},
	}
}

// TestNewGroupRequiredBeforeCancel covers the group bookkeeping contract: a
// group must be registered before it can be cancelled.
func TestNewGroupRequiredBeforeCancel(t *testing.T) {
	p := newTestPool(t, 1, 1)
	if err := p.Cancel("never-registered"); err == nil {
		t.Fatalf("expected Cancel on an unregistered group to fail")
	}
}

// TestCancelStopsDispatchedTask covers the scheduler half of the
// cancellation path: a task's cancelled channel closes once its group is
// cancelled, independent of the pool's own shutdown context.
func TestCancelStopsDispatchedTask(t *testing.T) {
	p := newTestPool(t, 1, 1)
	p.NewGroup("g1")
	defer p.EndGroup("g1")

	observed := make(chan bool, 1)
	started := make(chan struct{})
	task := Task{
		GroupID: "g1",
		Run: func(ctx context.Context, cancelled <-chan struct{}) {
			close(started)
			select {
			case <-cancelled:
				observed <- true
			case <-time.After(2 * time.Second):
				observed <- false
			}
		},
	}
	p.Submit(task)
	<-started

	if err := p.Cancel("g1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !<-observed {
		t.Fatalf("expected the dispatched task to observe cancellation")
	}
}

// TestPriorityBandsServicedInOrder covers property #10: with a single
// worker, queued Interactive/Scheduled tasks are serviced ahead of queued
// Background/Realtime tasks submitted earlier, so a burst of low-priority
// work never starves higher-priority work queued behind it.
func TestPriorityBandsServicedInOrder(t *testing.T) {
	p := newTestPool(t, 1, 1)
	p.NewGroup("g1")
	defer p.EndGroup("g1")

	// Occupy the sole worker so every subsequent Submit just queues.
	workerBusy := make(chan struct{})
	release := make(chan struct{})
	p.Submit(blockingTask("g1", workerBusy, release))
	<-workerBusy

	var mu sync.Mutex
	var order []Priority
	record := func(priority Priority) Task {
		return Task{
			GroupID: "g1",
			Priority: priority,
			Run: func(ctx context.Context, cancelled <-chan struct{}) {
				mu.Lock()
				order = append(order, priority)
				mu.Unlock()
			},
		}
	}

	// Queue lowest-priority bands first, then higher-priority bands, all
	// while the sole worker is still blocked on the first task.
	p.Submit(record(PriorityRealtime))
	p.Submit(record(PriorityBackground))
	p.Submit(record(PriorityScheduled))
	p.Submit(record(PriorityInteractive))

	close(release)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all 4 queued tasks to run, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Priority{PriorityInteractive, PriorityScheduled, PriorityBackground, PriorityRealtime}
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("expected dispatch order %v, got %v", want, order)
		}
	}
}

// TestSpawnWorkerRespectsMax ensures the pool never grows past its
// configured ceiling even when asked to scale up repeatedly.
func TestSpawnWorkerRespectsMax(t *testing.T) {
	p := newTestPool(t, 1, 2)
	if !p.spawnWorker() {
		t.Fatalf("expected spawnWorker to succeed below Max")
	}
	if p.spawnWorker() {
		t.Fatalf("expected spawnWorker to refuse once Max is reached")
	}
}

// TestRetireWorkerNoopAtMin ensures retireWorker never signals a scale-down
// when the pool is already at its minimum worker count.
func TestRetireWorkerNoopAtMin(t *testing.T) {
	p := newTestPool(t, 1, 4)
	p.retireWorker()
	select {
	case <-p.scaleDown:
		t.Fatalf("expected no scale-down signal at Min worker count")
	default:
	}
}

// TestRetireWorkerSignalsAboveMin ensures retireWorker does signal once the
// pool has scaled above Min.
func TestRetireWorkerSignalsAboveMin(t *testing.T) {
	p := newTestPool(t, 1, 4)
	p.spawnWorker()
	p.retireWorker()
	select {
	case <-p.scaleDown:
	default:
		t.Fatalf("expected a scale-down signal above Min worker count")
	}
}
