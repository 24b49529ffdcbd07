// Package scheduler implements the priority queue and adaptive worker pool
// that dispatches scan tasks to engine adapters, with per-scan-group
// cooperative cancellation and progress reporting.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
	"github.com/xanados/searchdestroy-core/pkg/state"
)

// Priority identifies a scan task's scheduling band. Lower values are
// serviced first.
type Priority int

const (
	PriorityInteractive Priority = iota
	PriorityScheduled
	PriorityBackground
	PriorityRealtime
	priorityBandCount
)

// Task is a unit of scan work submitted to the pool.
type Task struct {
	GroupID  string
	Path     string
	Priority Priority
	Run      func(ctx context.Context, cancelled <-chan struct{})
}

// group tracks the cancellation state and outstanding task count for one
// scan group (a single Scan call's worth of work).
type group struct {
	cancel  chan struct{}
	once    sync.Once
	pending int
}

// Pool is the adaptive worker pool. Workers drain priorityBandCount queues in
// strict priority order, spin up additional goroutines under backlog
// pressure up to Max, let idle workers beyond Min exit on their own, and are
// actively retired beyond Min when system load or memory pressure crosses
// its threshold even if the backlog never goes idle.
type Pool struct {
	logger *logging.Logger

	min, max uint32

	queues    [priorityBandCount]chan Task
	groupMu   sync.Mutex
	groups    map[string]*group
	scaleDown chan struct{}

	tracker *state.Tracker

	workerCount int32
	workerMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	busyMu   sync.Mutex
	fullScan bool
}

// New constructs a Pool from the workers.* configuration options and starts
// its minimum worker count.
func New(cfg config.WorkersConfiguration, logger *logging.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:    logger.Sublogger("scheduler"),
		min:       cfg.Min,
		max:       cfg.Max,
		groups:    make(map[string]*group),
		scaleDown: make(chan struct{}, 1),
		tracker:   state.NewTracker(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if p.min == 0 {
		p.min = 1
	}
	if p.max < p.min {
		p.max = p.min
	}
	for band := range p.queues {
		p.queues[band] = make(chan Task, 256)
	}
	for i := uint32(0); i < p.min; i++ {
		p.spawnWorker()
	}
	p.wg.Add(1)
	go p.scaleLoop()
	return p
}

// Tracker returns the progress tracker workers notify as tasks complete, for
// callers that want to wait for "something changed" without polling.
func (p *Pool) Tracker() *state.Tracker {
	return p.tracker
}

// BeginFullScan marks a Full-scope scan as active, returning KindBusy if one
// is already running. Callers must call EndFullScan when the scan group
// completes or is cancelled.
func (p *Pool) BeginFullScan() error {
	p.busyMu.Lock()
	defer p.busyMu.Unlock()
	if p.fullScan {
		return sderrors.New(sderrors.KindBusy, "a full scan is already active")
	}
	p.fullScan = true
	return nil
}

// EndFullScan clears the active Full-scan flag.
func (p *Pool) EndFullScan() {
	p.busyMu.Lock()
	p.fullScan = false
	p.busyMu.Unlock()
}

// NewGroup registers a new scan group under id, with a cancellation channel
// that Cancel(id) closes and that the group's tasks receive when they run.
func (p *Pool) NewGroup(id string) {
	p.groupMu.Lock()
	defer p.groupMu.Unlock()
	p.groups[id] = &group{cancel: make(chan struct{})}
}

// EndGroup releases bookkeeping for a completed scan group.
func (p *Pool) EndGroup(id string) {
	p.groupMu.Lock()
	defer p.groupMu.Unlock()
	delete(p.groups, id)
}

// Cancel requests cancellation of every outstanding and future task in the
// named scan group. It is idempotent.
func (p *Pool) Cancel(id string) error {
	p.groupMu.Lock()
	g, ok := p.groups[id]
	p.groupMu.Unlock()
	if !ok {
		return sderrors.New(sderrors.KindPathInvalid, "unknown scan group")
	}
	g.once.Do(func() { close(g.cancel) })
	return nil
}

func (p *Pool) groupCancelChannel(id string) <-chan struct{} {
	p.groupMu.Lock()
	defer p.groupMu.Unlock()
	if g, ok := p.groups[id]; ok {
		return g.cancel
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Submit enqueues a task onto its priority band. It blocks if that band's
// queue is full, applying natural backpressure to callers.
func (p *Pool) Submit(task Task) {
	p.queues[task.Priority] <- task
}

// Shutdown stops accepting new scaling decisions and terminates all workers,
// waiting for in-flight tasks to observe cancellation.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// spawnWorker starts one additional worker goroutine, up to Max.
func (p *Pool) spawnWorker() bool {
	p.workerMu.Lock()
	if uint32(p.workerCount) >= p.max {
		p.workerMu.Unlock()
		return false
	}
	p.workerCount++
	p.workerMu.Unlock()

	p.wg.Add(1)
	go p.runWorker()
	return true
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	idleTimer := time.NewTimer(workerIdleTimeout)
	defer idleTimer.Stop()

	for {
		task, ok := p.dequeue(idleTimer)
		if !ok {
			p.workerMu.Lock()
			canExit := uint32(p.workerCount) > p.min
			if canExit {
				p.workerCount--
			}
			p.workerMu.Unlock()
			if canExit {
				return
			}
			idleTimer.Reset(workerIdleTimeout)
			continue
		}
		if task.Run == nil {
			continue
		}
		cancelled := p.groupCancelChannel(task.GroupID)
		task.Run(p.ctx, cancelled)
		p.tracker.NotifyOfChange()
		if !idleTimer.Stop() {
			<-idleTimer.C
		}
		idleTimer.Reset(workerIdleTimeout)
	}
}

// workerIdleTimeout is how long an elastic worker (beyond Min) waits for a
// task before exiting.
const workerIdleTimeout = 5 * time.Second

// dequeue blocks for a task across all priority bands in strict priority
// order, or returns ok=false on pool shutdown or idle timeout.
func (p *Pool) dequeue(idleTimer *time.Timer) (Task, bool) {
	for band := range p.queues {
		select {
		case task := <-p.queues[band]:
			return task, true
		default:
		}
	}
	select {
	case <-p.ctx.Done():
		return Task{}, false
	case <-p.scaleDown:
		return Task{}, false
	case task := <-p.queues[PriorityInteractive]:
		return task, true
	case task := <-p.queues[PriorityScheduled]:
		return task, true
	case task := <-p.queues[PriorityBackground]:
		return task, true
	case task := <-p.queues[PriorityRealtime]:
		return task, true
	case <-idleTimer.C:
		return Task{}, false
	}
}

// systemSampleInterval is how often scaleLoop samples load average and
// memory pressure to decide whether to scale down.
const systemSampleInterval = 5 * time.Second

// memoryPressureThreshold is the fraction of system memory in use above
// which scaleLoop retires elastic workers regardless of backlog depth.
const memoryPressureThreshold = 0.85

// loadAverageMultiplier bounds the 1-minute load average, relative to the
// number of logical CPUs, above which scaleLoop retires elastic workers.
const loadAverageMultiplier = 1.5

// scaleLoop spawns additional workers under backlog pressure on a fast tick,
// and samples system load/memory on a slower tick to retire elastic workers
// when the host is under pressure, bringing worker count back down toward
// Min once backlog no longer justifies holding it above that pressure.
func (p *Pool) scaleLoop() {
	defer p.wg.Done()
	backlogTicker := time.NewTicker(200 * time.Millisecond)
	defer backlogTicker.Stop()
	systemTicker := time.NewTicker(systemSampleInterval)
	defer systemTicker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-backlogTicker.C:
			if p.backlogDepth() > int(p.min)*4 {
				p.spawnWorker()
			}
		case <-systemTicker.C:
			if p.systemUnderPressure() {
				p.retireWorker()
			}
		}
	}
}

// systemUnderPressure reports whether memory usage or load average exceed
// the configured thresholds. Sampling failures (e.g. an unsupported
// platform) are treated as "not under pressure" rather than forcing workers
// down on incomplete information.
func (p *Pool) systemUnderPressure() bool {
	if vm, err := mem.VirtualMemory(); err == nil {
		if vm.UsedPercent/100 > memoryPressureThreshold {
			return true
		}
	}
	if avg, err := load.Avg(); err == nil {
		if avg.Load1 > float64(runtime.NumCPU())*loadAverageMultiplier {
			return true
		}
	}
	return false
}

// retireWorker asks one elastic worker (above Min) to exit at its next
// dequeue, if any are currently running above Min.
func (p *Pool) retireWorker() {
	p.workerMu.Lock()
	aboveMin := uint32(p.workerCount) > p.min
	p.workerMu.Unlock()
	if !aboveMin {
		return
	}
	select {
	case p.scaleDown <- struct{}{}:
	default:
	}
}

func (p *Pool) backlogDepth() int {
	depth := 0
	for _, q := range p.queues {
		depth += len(q)
	}
	return depth
}
