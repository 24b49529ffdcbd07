package core

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/elevation"
	"github.com/xanados/searchdestroy-core/pkg/engine"
	"github.com/xanados/searchdestroy-core/pkg/eventbus"
	"github.com/xanados/searchdestroy-core/pkg/fsid"
	"github.com/xanados/searchdestroy-core/pkg/guard"
	"github.com/xanados/searchdestroy-core/pkg/identifier"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/monitor"
	"github.com/xanados/searchdestroy-core/pkg/orchestrator"
	"github.com/xanados/searchdestroy-core/pkg/quarantine"
	"github.com/xanados/searchdestroy-core/pkg/scancache"
	"github.com/xanados/searchdestroy-core/pkg/scheduler"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// Service implements the Core contract, wiring the guard, engine adapters,
// cache, scheduler, orchestrator, monitor, quarantine store, and elevation
// manager into one cohesive scanning pipeline.
type Service struct {
	cfg    *config.Configuration
	logger *logging.Logger

	guard      *guard.Guard
	adapters   map[config.Engine]engine.Adapter
	cache      *scancache.Cache
	pool       *scheduler.Pool
	quarantine *quarantine.Store
	elevation  *elevation.Manager
	bus        *eventbus.Bus
	monitor    *monitor.Monitor

	groupsMu sync.Mutex
	groups   map[ScanGroupID]*groupState

	fingerprintMu sync.RWMutex
	fingerprints  map[config.Engine]string
}

// groupState tracks the aggregate counters reported in Progress/ScanCompleted
// events for one scan group.
type groupState struct {
	filesSeen    uint64
	filesScanned uint64
	bytesScanned uint64
	detections   uint64
	lastProgress time.Time
	cancelled    bool
}

// New constructs a Service from a fully-resolved configuration and the set
// of engine adapters to consult. adapters need not include every
// config.Engine constant; only enabled, present adapters are consulted.
func New(cfg *config.Configuration, logger *logging.Logger, adapters map[config.Engine]engine.Adapter, prompter elevation.Prompter) (*Service, error) {
	g, err := guard.New(cfg.Scan, cfg.Scan.ScopeRoot, cfg.Scan.DenyPatterns, cfg.Scan.AllowPatterns)
	if err != nil {
		return nil, err
	}

	quarantineRoot, err := cfg.QuarantineRoot()
	if err != nil {
		return nil, err
	}
	store, err := quarantine.New(quarantineRoot, logger)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:          cfg,
		logger:       logger.Sublogger("core"),
		guard:        g,
		adapters:     adapters,
		cache:        scancache.New(cfg.Cache),
		pool:         scheduler.New(cfg.Workers, logger),
		quarantine:   store,
		elevation:    elevation.New(cfg.Session, prompter),
		bus:          eventbus.New(eventbus.DefaultCapacity),
		monitor:      monitor.New(cfg.Monitor, logger),
		groups:       make(map[ScanGroupID]*groupState),
		fingerprints: make(map[config.Engine]string),
	}
	service.refreshFingerprints(context.Background())
	return service, nil
}

// refreshFingerprints re-queries every adapter's current
// DefinitionsFingerprint, best-effort: an adapter that errors simply keeps
// its previous (or empty) fingerprint, which still participates correctly in
// cache keys, just without busting the cache for that specific engine until
// it recovers.
func (s *Service) refreshFingerprints(ctx context.Context) {
	fresh := make(map[config.Engine]string, len(s.adapters))
	for name, adapter := range s.adapters {
		fingerprint, err := adapter.DefinitionsFingerprint(ctx)
		if err != nil {
			s.logger.Warnf("unable to query definitions fingerprint for %s: %v", name, err)
			continue
		}
		fresh[name] = fingerprint
	}
	s.fingerprintMu.Lock()
	for name, fingerprint := range fresh {
		s.fingerprints[name] = fingerprint
	}
	s.fingerprintMu.Unlock()
}

// engineSetFingerprint combines the consensus policy and every configured
// engine's current definitions fingerprint into the cache key component
// the cache key needs, so an engine upgrade invalidates
// affected entries lazily (key comparison fails) rather than through an
// eager cache flush.
func (s *Service) engineSetFingerprint(engines []config.Engine) string {
	s.fingerprintMu.RLock()
	defer s.fingerprintMu.RUnlock()
	key := string(s.cfg.Consensus.Policy) + "|"
	for _, e := range engines {
		key += string(e) + "=" + s.fingerprints[e] + ";"
	}
	return key
}

// Scan enqueues every file under target for scanning under policy, returning
// immediately with the scan group's identifier; results and progress are
// delivered asynchronously through the Event Bus.
func (s *Service) Scan(ctx context.Context, target ScanTarget, policy ScanPolicy) (ScanGroupID, error) {
	rawID, err := identifier.New(identifier.PrefixScanGroup)
	if err != nil {
		return "", sderrors.Wrap(sderrors.KindResourceExhausted, err, "unable to allocate scan group identifier")
	}
	groupID := ScanGroupID(rawID)

	if policy.Mode == ModeFull {
		if err := s.pool.BeginFullScan(); err != nil {
			return "", err
		}
	}

	s.pool.NewGroup(string(groupID))
	s.groupsMu.Lock()
	s.groups[groupID] = &groupState{}
	s.groupsMu.Unlock()

	s.bus.Publish(eventbus.ScanStarted{GroupID: string(groupID), Target: target.Path, Started: time.Now()})

	paths, err := s.enumerate(target)
	if err != nil {
		s.endGroup(groupID, policy, true)
		return "", err
	}

	for _, path := range paths {
		path := path
		s.noteFileSeen(groupID)
		s.pool.Submit(scheduler.Task{
			GroupID:  string(groupID),
			Path:     path,
			Priority: policy.Priority,
			Run: func(taskCtx context.Context, cancelled <-chan struct{}) {
				s.scanOne(taskCtx, groupID, path, policy, cancelled)
			},
		})
	}

	go func() {
		// There is no explicit "all tasks submitted" barrier in the
		// scheduler; for a bounded (non-realtime) scan group this
		// goroutine's only job is to emit ScanCompleted once every
		// submitted task has been accounted for.
		s.awaitGroupDrain(groupID, len(paths))
		s.endGroup(groupID, policy, false)
	}()

	return groupID, nil
}

// enumerate resolves target into the set of paths to scan, applying the
// guard's allow/deny decisions and resource budget up front so disallowed
// files never reach the scheduler.
func (s *Service) enumerate(target ScanTarget) ([]string, error) {
	canonical, err := s.guard.Canonicalize(target.Path)
	if err != nil {
		return nil, err
	}

	var paths []string
	walker := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // guard failures are recoverable, skip and continue
		}
		if d.IsDir() {
			if !target.Recursive && path != canonical {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.guard.IsAllowed(path) {
			return nil
		}
		if _, skip, _ := s.guard.CheckResourceBudget(path); skip {
			return nil
		}
		paths = append(paths, path)
		return nil
	}

	if err := filepath.WalkDir(canonical, walker); err != nil {
		return nil, sderrors.Wrap(sderrors.KindPathInvalid, err, "unable to enumerate scan target")
	}
	return paths, nil
}

// scanOne runs every configured engine against path, reduces the results
// into a composite verdict (consulting the cache first), and publishes the
// resulting events.
func (s *Service) scanOne(ctx context.Context, groupID ScanGroupID, path string, policy ScanPolicy, cancelled <-chan struct{}) {
	identity, _, err := fsid.Stat(path)
	if err != nil {
		s.bus.Publish(eventbus.Error{GroupID: string(groupID), Kind: string(sderrors.KindPathInvalid), Message: err.Error()})
		return
	}

	cacheKey := identity.Key() + "|" + s.engineSetFingerprint(policy.Engines)

	compute := func(computeCtx context.Context) ([]byte, error) {
		results := s.runEngines(computeCtx, path, policy, cancelled)
		composite := orchestrator.Reduce(s.cfg.Consensus.Policy, s.cfg.Consensus.HeuristicThreshold, results)
		return encodeVerdict(composite), nil
	}

	var encoded []byte
	if policy.UseCache {
		encoded, err = s.cache.GetOrCompute(ctx, cacheKey, compute)
	} else {
		encoded, err = compute(ctx)
	}
	if err != nil {
		s.bus.Publish(eventbus.Error{GroupID: string(groupID), Kind: string(sderrors.KindEngineTimeout), Message: err.Error()})
		return
	}
	composite := decodeVerdict(encoded)

	s.noteFileScanned(groupID, int64(identity.Size))
	s.bus.Publish(eventbus.FileScanned{GroupID: string(groupID), Path: path, Verdict: string(composite.Verdict)})

	if composite.Verdict == engine.VerdictClean {
		return
	}

	s.noteDetection(groupID)
	s.bus.Publish(eventbus.Detection{
		GroupID:  string(groupID),
		Path:     path,
		Verdict:  string(composite.Verdict),
		Severity: severityName(composite.Severity),
		Family:   composite.Family,
	})

	if composite.Verdict == engine.VerdictMalicious {
		s.quarantineDetection(ctx, path, composite, s.engineSetFingerprint(policy.Engines), cancelled)
	}
}

// cachedVerdict is the subset of a composite verdict persisted in the scan
// cache: enough to reproduce FileScanned/Detection events on a cache hit,
// without re-storing the full per-engine breakdown of a fresh scan.
type cachedVerdict struct {
	Verdict  engine.Verdict  `json:"verdict"`
	Severity engine.Severity `json:"severity"`
	Family   string          `json:"family"`
}

func encodeVerdict(composite orchestrator.CompositeVerdict) []byte {
	encoded, _ := json.Marshal(cachedVerdict{Verdict: composite.Verdict, Severity: composite.Severity, Family: composite.Family})
	return encoded
}

func decodeVerdict(data []byte) orchestrator.CompositeVerdict {
	var v cachedVerdict
	json.Unmarshal(data, &v)
	return orchestrator.CompositeVerdict{Verdict: v.Verdict, Severity: v.Severity, Family: v.Family}
}

// runEngines consults every adapter named in the policy, in no particular
// order; adapter failures surface as engine.Result entries with Err set
// rather than aborting the scan.
func (s *Service) runEngines(ctx context.Context, path string, policy ScanPolicy, cancelled <-chan struct{}) []engine.Result {
	var results []engine.Result
	for _, name := range policy.Engines {
		adapter, ok := s.adapters[name]
		if !ok {
			continue
		}
		result, err := adapter.Scan(ctx, path, cancelled)
		if err != nil {
			result.Err = err
		}
		result.Engine = name
		results = append(results, result)
	}
	return results
}

// quarantineDetection moves a malicious file into the quarantine store. Like
// QuarantineRestore, it requires an authorized elevation session; none is
// ever silently skipped just because the caller is the detection pipeline
// rather than an interactive RPC. QuarantineList and QuarantinePurge take no
// session.
func (s *Service) quarantineDetection(ctx context.Context, path string, composite orchestrator.CompositeVerdict, definitionsFingerprint string, cancelled <-chan struct{}) {
	sessionID, err := s.elevation.Acquire([]elevation.Scope{elevation.ScopeQuarantine})
	if err != nil {
		s.logger.Warnf("elevation denied for quarantining %s: %v", path, err)
		return
	}
	defer s.elevation.Revoke(sessionID)

	record, err := s.quarantine.Quarantine(ctx, path, "", definitionsFingerprint, composite.Family, cancelled)
	if err != nil {
		s.logger.Warnf("unable to quarantine %s: %v", path, err)
		return
	}
	s.bus.Publish(eventbus.QuarantineChanged{RecordID: record.ID, Action: "added"})
}

func severityName(sev engine.Severity) string {
	switch sev {
	case engine.SeverityCritical:
		return "critical"
	case engine.SeverityHigh:
		return "high"
	case engine.SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Cancel cancels every task belonging to group.
func (s *Service) Cancel(group ScanGroupID) error {
	s.groupsMu.Lock()
	if st, ok := s.groups[group]; ok {
		st.cancelled = true
	}
	s.groupsMu.Unlock()
	return s.pool.Cancel(string(group))
}

// Elevation returns the service's elevation session manager, for callers
// (e.g. pkg/ipcserver) that need to acquire a session ahead of an operation
// requiring one.
func (s *Service) Elevation() *elevation.Manager {
	return s.elevation
}

// DefaultScanPolicy returns the scan policy a caller with no specific
// requirements should use.
func (s *Service) DefaultScanPolicy() ScanPolicy {
	return DefaultPolicy(s.cfg)
}

// Subscribe returns a channel of delivered events and an unsubscribe
// function. Since the bus has a single internal consumer loop, Subscribe may
// only be called once per Service instance; callers needing fan-out should
// relay from the returned channel themselves.
func (s *Service) Subscribe() (<-chan eventbus.Event, func()) {
	out := make(chan eventbus.Event, eventbus.DefaultCapacity)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			e, ok := s.bus.Next()
			if !ok {
				close(out)
				return
			}
			select {
			case out <- e:
			case <-stop:
				return
			}
		}
	}()
	return out, func() { close(stop) }
}

// QuarantineList returns every quarantined record.
func (s *Service) QuarantineList() ([]*quarantine.Record, error) {
	return s.quarantine.List()
}

// QuarantineRestore restores a quarantined file to its original path,
// requiring an elevation session authorizing QuarantineRestore since it
// writes outside the application's own data directory.
func (s *Service) QuarantineRestore(sessionID, id string, overwrite bool) error {
	if err := s.elevation.Authorize(sessionID, elevation.ScopeQuarantineRestore); err != nil {
		return err
	}
	if err := s.quarantine.Restore(context.Background(), id, overwrite, nil); err != nil {
		return err
	}
	s.bus.Publish(eventbus.QuarantineChanged{RecordID: id, Action: "restored"})
	return nil
}

// QuarantinePurge permanently deletes a quarantined file.
func (s *Service) QuarantinePurge(id string) error {
	if err := s.quarantine.Purge(id); err != nil {
		return err
	}
	s.bus.Publish(eventbus.QuarantineChanged{RecordID: id, Action: "purged"})
	return nil
}

// monitorGroupID is the scan group under which every real-time,
// monitor-triggered scan task runs. Unlike an on-demand Scan, it is
// registered once for the monitor's entire lifetime rather than per event,
// since real-time protection has no natural completion point to tear it
// down at.
const monitorGroupID = ScanGroupID("monitor")

// MonitorStart begins real-time filesystem monitoring, feeding coalesced
// change sets into the scheduler as Realtime-priority scan tasks.
func (s *Service) MonitorStart() error {
	s.pool.NewGroup(string(monitorGroupID))
	if err := s.monitor.Start(); err != nil {
		s.pool.EndGroup(string(monitorGroupID))
		return err
	}
	go s.relayMonitorEvents()
	return nil
}

// relayMonitorEvents drains the monitor's change sets and errors, submitting
// a scan task per changed path (other than a Delete, which has nothing left
// to scan), and publishing MonitorDegraded/MonitorEventsDropped as the
// monitor reports them.
func (s *Service) relayMonitorEvents() {
	policy := DefaultPolicy(s.cfg)
	policy.Priority = scheduler.PriorityRealtime

	for {
		select {
		case changes, ok := <-s.monitor.Changes():
			if !ok {
				return
			}
			if s.monitor.State() == monitor.StateDegraded {
				s.bus.Publish(eventbus.MonitorDegraded{Reason: "inotify watch limit reached", At: time.Now()})
			}
			groupID := monitorGroupID
			for _, event := range changes.Events {
				if event.Kind == monitor.KindDelete {
					// Nothing to scan; the coalescing window already
					// cancelled any scan this path's Create/Modify would
					// otherwise have triggered.
					continue
				}
				path := event.Path
				if !s.guard.IsAllowed(path) {
					continue
				}
				s.pool.Submit(scheduler.Task{
					GroupID:  string(groupID),
					Path:     path,
					Priority: policy.Priority,
					Run: func(ctx context.Context, cancelled <-chan struct{}) {
						s.scanOne(ctx, groupID, path, policy, cancelled)
					},
				})
			}
		case err, ok := <-s.monitor.Errors():
			if !ok {
				return
			}
			s.bus.Publish(eventbus.Error{Kind: string(sderrors.KindResourceExhausted), Message: err.Error()})
		case total, ok := <-s.monitor.Overflow():
			if !ok {
				return
			}
			s.bus.Publish(eventbus.MonitorEventsDropped{TotalDropped: total, At: time.Now()})
		}
	}
}

// MonitorStop halts real-time filesystem monitoring.
func (s *Service) MonitorStop() error {
	err := s.monitor.Stop()
	s.pool.EndGroup(string(monitorGroupID))
	return err
}

// UpdateDefinitions triggers every configured engine to reload its
// detection definitions, invalidating cache entries whose
// definitions_fingerprint no longer matches lazily on next lookup rather
// than through an eager flush.
func (s *Service) UpdateDefinitions(ctx context.Context) error {
	for _, adapter := range s.adapters {
		if err := adapter.Warmup(ctx); err != nil {
			return err
		}
	}
	s.refreshFingerprints(ctx)
	return nil
}

// Shutdown releases every resource owned by the service.
func (s *Service) Shutdown() {
	s.pool.Shutdown()
	s.monitor.Stop()
	s.bus.Close()
	for _, adapter := range s.adapters {
		adapter.Close()
	}
}

func (s *Service) noteFileSeen(groupID ScanGroupID) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	st, ok := s.groups[groupID]
	if !ok {
		return
	}
	st.filesSeen++
	s.maybeEmitProgress(groupID, st)
}

func (s *Service) noteFileScanned(groupID ScanGroupID, bytes int64) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	st, ok := s.groups[groupID]
	if !ok {
		return
	}
	st.filesScanned++
	st.bytesScanned += uint64(bytes)
	s.maybeEmitProgress(groupID, st)
}

func (s *Service) noteDetection(groupID ScanGroupID) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	if st, ok := s.groups[groupID]; ok {
		st.detections++
	}
}

// maybeEmitProgress rate-limits Progress events to 10 Hz per scan group.
// Must be called with s.groupsMu held.
func (s *Service) maybeEmitProgress(groupID ScanGroupID, st *groupState) {
	const progressInterval = 100 * time.Millisecond
	now := time.Now()
	if now.Sub(st.lastProgress) < progressInterval {
		return
	}
	st.lastProgress = now
	s.bus.Publish(eventbus.Progress{
		GroupID:      string(groupID),
		FilesSeen:    st.filesSeen,
		FilesScanned: st.filesScanned,
		BytesScanned: st.bytesScanned,
		Detections:   st.detections,
	})
}

// awaitGroupDrain blocks until the scheduler's group tracker reports no
// pending work for this group, polling via the pool's change tracker rather
// than a fixed sleep.
func (s *Service) awaitGroupDrain(groupID ScanGroupID, expectedFiles int) {
	tracker := s.pool.Tracker()
	index := uint64(0)
	for {
		s.groupsMu.Lock()
		st, ok := s.groups[groupID]
		done := ok && (int(st.filesScanned) >= expectedFiles || st.cancelled)
		s.groupsMu.Unlock()
		if done {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		newIndex, err := tracker.WaitForChange(ctx, index)
		cancel()
		if err != nil {
			continue
		}
		index = newIndex
	}
}

func (s *Service) endGroup(groupID ScanGroupID, policy ScanPolicy, enumerationFailed bool) {
	s.groupsMu.Lock()
	st := s.groups[groupID]
	delete(s.groups, groupID)
	s.groupsMu.Unlock()

	s.pool.EndGroup(string(groupID))
	if policy.Mode == ModeFull {
		s.pool.EndFullScan()
	}

	completed := eventbus.ScanCompleted{GroupID: string(groupID), Completed: time.Now(), Cancelled: enumerationFailed}
	if st != nil {
		completed.FilesTotal = st.filesScanned
		completed.Detections = st.detections
		completed.Cancelled = completed.Cancelled || st.cancelled
	}
	s.bus.Publish(completed)
}
