// +build linux

// Package monitor implements the real-time filesystem watcher: a debounced,
// rate-capped inotify-based watcher that falls back to periodic polling when
// the kernel's watch-handle budget is exhausted.
package monitor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/state"
)

// coalescingWindow is the quiet period that must elapse, with no new
// filesystem activity, before a batch of pending changes is delivered as a
// single ChangeSet.
const coalescingWindow = 250 * time.Millisecond

// pollingFallbackInterval is how often Degraded mode re-emits every watched
// root when inotify watches have been exhausted.
const pollingFallbackInterval = 30 * time.Second

// watchCoalescingMaximumPendingPaths bounds memory used by the pending-path
// set during a coalescing window, before it would otherwise accumulate
// unbounded distinct paths during a filesystem storm.
const watchCoalescingMaximumPendingPaths = 10 * 1024

// State identifies the monitor's current operating mode.
type State string

const (
	StateStopped  State = "stopped"
	StateActive   State = "active"
	StateDegraded State = "degraded" // inotify exhausted; polling fallback active
)

// Kind classifies the filesystem change a MonitorEvent concerns.
type Kind string

const (
	KindCreate     Kind = "create"
	KindModify     Kind = "modify"
	KindDelete     Kind = "delete"
	KindAttrChange Kind = "attr_change"
)

// kindRank imposes the precedence order Delete > Modify > Create > AttrChange
// used to coalesce multiple raw events for the same path within one window:
// whichever kind ranks highest wins, since it determines what the eventual
// scan task (or lack thereof) should do with the path.
func kindRank(k Kind) int {
	switch k {
	case KindDelete:
		return 3
	case KindModify:
		return 2
	case KindCreate:
		return 1
	default: // KindAttrChange
		return 0
	}
}

// mergeKind folds a newly observed kind into the kind already pending for a
// path, keeping whichever ranks higher. A Delete, once pending, is never
// displaced: the path's final disposition for this window is "gone", and a
// Modify arriving afterward (e.g. a recreate-then-write within the same
// window) still only subsumes Create/AttrChange, never Delete.
func mergeKind(existing, incoming Kind) Kind {
	if existing == "" || kindRank(incoming) > kindRank(existing) {
		return incoming
	}
	return existing
}

// MonitorEvent is one coalesced, path-deduplicated filesystem change.
type MonitorEvent struct {
	Path string
	Kind Kind
}

// ChangeSet is a coalesced batch of changes delivered to the scheduler.
type ChangeSet struct {
	Events []MonitorEvent
}

// Monitor watches a configured set of root paths and emits coalesced,
// rate-capped change sets.
type Monitor struct {
	logger  *logging.Logger
	roots   []string
	rateCap uint32

	stateMu sync.Mutex
	state   State

	changes  chan ChangeSet
	errors   chan error
	overflow chan uint64

	dropped uint64

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New constructs a Monitor from the monitor.* configuration options.
func New(cfg config.MonitorConfiguration, logger *logging.Logger) *Monitor {
	return &Monitor{
		logger:   logger.Sublogger("monitor"),
		roots:    cfg.Paths,
		rateCap:  cfg.RateCap,
		state:    StateStopped,
		changes:  make(chan ChangeSet, 16),
		errors:   make(chan error, 1),
		overflow: make(chan uint64, 1),
	}
}

// Changes returns the channel on which coalesced change sets are delivered.
func (m *Monitor) Changes() <-chan ChangeSet {
	return m.changes
}

// Errors returns the channel on which non-fatal watch errors are reported.
func (m *Monitor) Errors() <-chan error {
	return m.errors
}

// Overflow returns the channel on which cumulative dropped-event counts are
// reported whenever the configured rate cap forces events to be discarded
// rather than turned into scan tasks.
func (m *Monitor) Overflow() <-chan uint64 {
	return m.overflow
}

// DroppedCount returns the cumulative number of events discarded by the rate
// cap since the monitor started.
func (m *Monitor) DroppedCount() uint64 {
	return atomic.LoadUint64(&m.dropped)
}

// State returns the monitor's current operating mode.
func (m *Monitor) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// Start begins watching the configured roots. It returns once the initial
// watch registration has completed.
func (m *Monitor) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	b, err := newBackend(inotifyDefaultMaxWatches)
	if err != nil {
		m.setState(StateDegraded)
		m.done.Add(1)
		go m.pollLoop(ctx, nil)
		return nil
	}

	degraded := false
	for _, root := range m.roots {
		if err := b.addWatch(root); err != nil {
			degraded = true
		}
	}

	m.done.Add(1)
	if degraded {
		m.setState(StateDegraded)
		go m.pollLoop(ctx, b)
	} else {
		m.setState(StateActive)
		go m.watchLoop(ctx, b)
	}
	return nil
}

// inotifyDefaultMaxWatches bounds the number of live inotify watches this
// monitor keeps before evicting the least-recently-touched one.
const inotifyDefaultMaxWatches = 4096

// watchLoop reads raw inotify events, coalesces them by path and kind over a
// debounce window, applies the configured rate cap to the paths actually
// emitted, and delivers the result as a ChangeSet. The debounce window itself
// is driven by a Coalescer: every raw event strobes it, so the window keeps
// sliding forward under sustained activity and only fires once things go
// quiet, rather than flushing on a fixed tick regardless of continued churn.
func (m *Monitor) watchLoop(ctx context.Context, b *backend) {
	defer m.done.Done()
	defer b.close()

	rawEvents := make(chan rawEvent, 256)
	readErrors := make(chan error, 1)
	go func() {
		buffer := make([]byte, 64*1024)
		for {
			events, err := b.read(buffer)
			if err != nil {
				select {
				case readErrors <- err:
				default:
				}
				return
			}
			for _, e := range events {
				select {
				case rawEvents <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	coalescer := state.NewCoalescer(coalescingWindow)
	defer coalescer.Terminate()

	pending := make(map[string]Kind)

	windowStart := time.Now()
	emittedInWindow := uint32(0)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrors:
			select {
			case m.errors <- err:
			default:
			}
			return
		case e := <-rawEvents:
			if _, exists := pending[e.path]; exists || len(pending) < watchCoalescingMaximumPendingPaths {
				pending[e.path] = mergeKind(pending[e.path], e.kind)
			}
			coalescer.Strobe()
		case <-coalescer.Events():
			if len(pending) == 0 {
				continue
			}
			if time.Since(windowStart) >= time.Second {
				windowStart = time.Now()
				emittedInWindow = 0
			}

			budget := uint32(len(pending))
			if m.rateCap > 0 && m.rateCap > emittedInWindow {
				budget = m.rateCap - emittedInWindow
			} else if m.rateCap > 0 {
				budget = 0
			}

			set, dropped := drainPending(pending, budget)
			pending = make(map[string]Kind)
			if dropped > 0 {
				total := atomic.AddUint64(&m.dropped, uint64(dropped))
				select {
				case m.overflow <- total:
				default:
				}
			}
			emittedInWindow += uint32(len(set.Events))
			if len(set.Events) == 0 {
				continue
			}
			select {
			case m.changes <- set:
			case <-ctx.Done():
				return
			}
		}
	}
}

// drainPending converts pending into a ChangeSet capped at budget entries,
// chosen deterministically (lexicographic path order) so that which paths
// survive an overflow is reproducible rather than map-iteration-order
// dependent. It reports how many entries were dropped to satisfy the cap.
func drainPending(pending map[string]Kind, budget uint32) (ChangeSet, int) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if uint32(len(paths)) <= budget {
		events := make([]MonitorEvent, len(paths))
		for i, p := range paths {
			events[i] = MonitorEvent{Path: p, Kind: pending[p]}
		}
		return ChangeSet{Events: events}, 0
	}

	kept := paths[:budget]
	events := make([]MonitorEvent, len(kept))
	for i, p := range kept {
		events[i] = MonitorEvent{Path: p, Kind: pending[p]}
	}
	return ChangeSet{Events: events}, len(paths) - len(kept)
}

// pollLoop implements the Degraded-state fallback: on every tick it emits a
// ChangeSet containing every watched root as a Modify, without examining the
// filesystem, since without inotify the monitor cannot determine which files
// actually changed. It does not try to reacquire inotify watches.
func (m *Monitor) pollLoop(ctx context.Context, b *backend) {
	defer m.done.Done()
	if b != nil {
		defer b.close()
	}
	ticker := time.NewTicker(pollingFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := make([]MonitorEvent, len(m.roots))
			for i, root := range m.roots {
				events[i] = MonitorEvent{Path: root, Kind: KindModify}
			}
			select {
			case m.changes <- ChangeSet{Events: events}:
			default:
			}
		}
	}
}

// Stop terminates the monitor's run loop and waits for it to exit.
func (m *Monitor) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.done.Wait()
	m.setState(StateStopped)
	return nil
}
