package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/elevation"
	"github.com/xanados/searchdestroy-core/pkg/engine"
	"github.com/xanados/searchdestroy-core/pkg/eventbus"
	"github.com/xanados/searchdestroy-core/pkg/logging"
)

// fakeAdapter is an in-memory engine.Adapter standing in for a real
// ClamAV/RKHunter/YARA subprocess: it reports a fixed verdict for paths
// listed in detections and clean for everything else.
type fakeAdapter struct {
	name        config.Engine
	mu          sync.Mutex
	detections  map[string]engine.Result
	fingerprint string
	scans       int32
	closed      bool
}

func newFakeAdapter(name config.Engine) *fakeAdapter {
	return &fakeAdapter{name: name, detections: make(map[string]engine.Result), fingerprint: "v1"}
}

func (a *fakeAdapter) Name() config.Engine { return a.name }

func (a *fakeAdapter) callCount() int32 { return atomic.LoadInt32(&a.scans) }

func (a *fakeAdapter) Scan(ctx context.Context, path string, cancelled <-chan struct{}) (engine.Result, error) {
	atomic.AddInt32(&a.scans, 1)
	select {
	case <-cancelled:
		return engine.Result{Engine: a.name}, context.Canceled
	default:
	}
	a.mu.Lock()
	r, ok := a.detections[path]
	a.mu.Unlock()
	if ok {
		r.Engine = a.name
		return r, nil
	}
	return engine.Result{Engine: a.name, Verdict: engine.VerdictClean}, nil
}

func (a *fakeAdapter) Warmup(ctx context.Context) error { return nil }

func (a *fakeAdapter) DefinitionsFingerprint(ctx context.Context) (string, error) {
	return a.fingerprint, nil
}

func (a *fakeAdapter) Close() error {
	a.closed = true
	return nil
}

// alwaysApprovePrompter approves every elevation request without user
// interaction, for tests that exercise QuarantineRestore.
type alwaysApprovePrompter struct{}

func (alwaysApprovePrompter) PromptForScopes(scopes []elevation.Scope) (bool, error) {
	return true, nil
}

func newTestService(t *testing.T, av *fakeAdapter, scopeRoot string) (*Service, *config.Configuration) {
	t.Helper()

	cfg := config.Default()
	cfg.Scan.ScopeRoot = scopeRoot
	cfg.Quarantine.Root = filepath.Join(t.TempDir(), "quarantine")
	cfg.Engines.Enabled = []config.Engine{config.EngineAV}

	logger := logging.NewLogger(logging.LevelError, os.Stderr)
	adapters := map[config.Engine]engine.Adapter{config.EngineAV: av}

	service, err := New(cfg, logger, adapters, alwaysApprovePrompter{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(service.Shutdown)
	return service, cfg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func drainUntilCompleted(t *testing.T, events <-chan eventbus.Event, groupID ScanGroupID, timeout time.Duration) eventbus.ScanCompleted {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if completed, ok := e.(eventbus.ScanCompleted); ok && completed.GroupID == string(groupID) {
				return completed
			}
		case <-deadline:
			t.Fatalf("timed out waiting for ScanCompleted for group %s", groupID)
		}
	}
}

// TestScanCleanFileReportsNoDetections covers S1: scanning a directory with
// no malicious content completes with zero detections.
func TestScanCleanFileReportsNoDetections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello world")

	av := newFakeAdapter(config.EngineAV)
	service, cfg := newTestService(t, av, dir)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	groupID, err := service.Scan(context.Background(), ScanTarget{Path: dir, Recursive: true}, DefaultPolicy(cfg))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	completed := drainUntilCompleted(t, events, groupID, 5*time.Second)
	if completed.Detections != 0 {
		t.Fatalf("expected 0 detections, got %d", completed.Detections)
	}
	if completed.FilesTotal != 1 {
		t.Fatalf("expected 1 file scanned, got %d", completed.FilesTotal)
	}
}

// TestScanMaliciousFileQuarantines covers S2: a file flagged malicious by an
// engine is quarantined and removed from its original location.
func TestScanMaliciousFileQuarantines(t *testing.T) {
	dir := t.TempDir()
	infected := writeFile(t, dir, "bad.bin", "evil payload")

	av := newFakeAdapter(config.EngineAV)
	av.detections[infected] = engine.Result{Verdict: engine.VerdictMalicious, Severity: engine.SeverityCritical, Family: "test.trojan"}

	service, cfg := newTestService(t, av, dir)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	groupID, err := service.Scan(context.Background(), ScanTarget{Path: dir, Recursive: true}, DefaultPolicy(cfg))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	completed := drainUntilCompleted(t, events, groupID, 5*time.Second)
	if completed.Detections != 1 {
		t.Fatalf("expected 1 detection, got %d", completed.Detections)
	}

	if _, err := os.Stat(infected); !os.IsNotExist(err) {
		t.Fatalf("expected infected file to be removed from original path, stat err = %v", err)
	}

	records, err := service.QuarantineList()
	if err != nil {
		t.Fatalf("QuarantineList: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 quarantine record, got %d", len(records))
	}
	if records[0].Family != "test.trojan" {
		t.Fatalf("expected family test.trojan, got %s", records[0].Family)
	}
}

// TestScanCacheHitSkipsEngine covers S3: scanning the same unmodified file
// twice only dispatches the engine once; the second pass is served from the
// cache and still reports the same verdict.
func TestScanCacheHitSkipsEngine(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "notes.txt", "nothing interesting")

	av := newFakeAdapter(config.EngineAV)
	service, cfg := newTestService(t, av, dir)
	policy := DefaultPolicy(cfg)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	groupA, err := service.Scan(context.Background(), ScanTarget{Path: target, Recursive: false}, policy)
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	drainUntilCompleted(t, events, groupA, 5*time.Second)
	if av.callCount() != 1 {
		t.Fatalf("expected 1 engine call after first scan, got %d", av.callCount())
	}

	groupB, err := service.Scan(context.Background(), ScanTarget{Path: target, Recursive: false}, policy)
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	completed := drainUntilCompleted(t, events, groupB, 5*time.Second)
	if completed.Detections != 0 {
		t.Fatalf("expected 0 detections on cached clean verdict, got %d", completed.Detections)
	}
	if av.callCount() != 1 {
		t.Fatalf("expected the cache to serve the second identical scan without another engine call, got %d calls", av.callCount())
	}
}

// TestCancelStopsGroup covers S4: cancelling a scan group prevents further
// progress and surfaces Cancelled on completion.
func TestCancelStopsGroup(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeFile(t, dir, fmt.Sprintf("file%02d.txt", i), "content")
	}

	av := newFakeAdapter(config.EngineAV)
	service, cfg := newTestService(t, av, dir)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	groupID, err := service.Scan(context.Background(), ScanTarget{Path: dir, Recursive: true}, DefaultPolicy(cfg))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := service.Cancel(groupID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	completed := drainUntilCompleted(t, events, groupID, 5*time.Second)
	if !completed.Cancelled {
		t.Fatalf("expected ScanCompleted.Cancelled to be true")
	}
}

// slowAdapter sleeps for a configurable duration on every Scan call, so a
// cancellation can be issued mid-scan with work still outstanding.
type slowAdapter struct {
	name  config.Engine
	delay time.Duration
}

func (a *slowAdapter) Name() config.Engine { return a.name }

func (a *slowAdapter) Scan(ctx context.Context, path string, cancelled <-chan struct{}) (engine.Result, error) {
	select {
	case <-cancelled:
		return engine.Result{Engine: a.name}, context.Canceled
	case <-time.After(a.delay):
	}
	return engine.Result{Engine: a.name, Verdict: engine.VerdictClean}, nil
}

func (a *slowAdapter) Warmup(ctx context.Context) error                          { return nil }
func (a *slowAdapter) DefinitionsFingerprint(ctx context.Context) (string, error) { return "v1", nil }
func (a *slowAdapter) Close() error                                              { return nil }

// TestCancelLatencyUnderBound covers S4/property #4: after cancel(group), no
// new FileScanned event for that group is observed more than 200ms later,
// measured against a scan still busy at cancellation time.
func TestCancelLatencyUnderBound(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 40; i++ {
		writeFile(t, dir, fmt.Sprintf("slow%02d.txt", i), "content")
	}

	av := &slowAdapter{name: config.EngineAV, delay: 50 * time.Millisecond}
	cfg := config.Default()
	cfg.Scan.ScopeRoot = dir
	cfg.Quarantine.Root = filepath.Join(t.TempDir(), "quarantine")
	cfg.Engines.Enabled = []config.Engine{config.EngineAV}

	logger := logging.NewLogger(logging.LevelError, os.Stderr)
	adapters := map[config.Engine]engine.Adapter{config.EngineAV: av}
	service, err := New(cfg, logger, adapters, alwaysApprovePrompter{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(service.Shutdown)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	groupID, err := service.Scan(context.Background(), ScanTarget{Path: dir, Recursive: true}, DefaultPolicy(cfg))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// Let the workers start on the first files so the group is genuinely busy,
	// then cancel and record when the cancel call returned.
	time.Sleep(30 * time.Millisecond)
	if err := service.Cancel(groupID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelledAt := time.Now()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			switch ev := e.(type) {
			case eventbus.FileScanned:
				if ev.GroupID == string(groupID) && time.Since(cancelledAt) > 200*time.Millisecond {
					t.Fatalf("observed a FileScanned event %s after cancellation, exceeding the 200ms bound", time.Since(cancelledAt))
				}
			case eventbus.ScanCompleted:
				if ev.GroupID == string(groupID) {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for ScanCompleted after cancellation")
		}
	}
}

// TestQuarantineRestoreRequiresElevation covers S5: restoring a quarantined
// file requires a prior, correctly-scoped elevation session.
func TestQuarantineRestoreRequiresElevation(t *testing.T) {
	dir := t.TempDir()
	infected := writeFile(t, dir, "bad.bin", "evil payload")

	av := newFakeAdapter(config.EngineAV)
	av.detections[infected] = engine.Result{Verdict: engine.VerdictMalicious, Severity: engine.SeverityHigh, Family: "test.worm"}

	service, cfg := newTestService(t, av, dir)

	events, unsubscribe := service.Subscribe()
	defer unsubscribe()
	groupID, err := service.Scan(context.Background(), ScanTarget{Path: dir, Recursive: true}, DefaultPolicy(cfg))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	drainUntilCompleted(t, events, groupID, 5*time.Second)

	records, err := service.QuarantineList()
	if err != nil || len(records) != 1 {
		t.Fatalf("QuarantineList: %v, %d records", err, len(records))
	}
	recordID := records[0].ID

	if err := service.QuarantineRestore("not-a-real-session", recordID, false); err == nil {
		t.Fatalf("expected restore without a session to fail")
	}

	sessionID, err := service.elevation.Acquire([]elevation.Scope{elevation.ScopeQuarantineRestore})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := service.QuarantineRestore(sessionID, recordID, true); err != nil {
		t.Fatalf("QuarantineRestore with session: %v", err)
	}
	if _, err := os.Stat(infected); err != nil {
		t.Fatalf("expected restored file to exist at original path: %v", err)
	}
}

// TestUpdateDefinitionsRefreshesFingerprint covers S6: updating engine
// definitions changes the engine-set fingerprint component of the cache key
// so subsequently scanned files are not served a stale cached verdict.
func TestUpdateDefinitionsRefreshesFingerprint(t *testing.T) {
	av := newFakeAdapter(config.EngineAV)
	service, cfg := newTestService(t, av, t.TempDir())

	before := service.engineSetFingerprint(cfg.Engines.Enabled)

	av.fingerprint = "v2"
	if err := service.UpdateDefinitions(context.Background()); err != nil {
		t.Fatalf("UpdateDefinitions: %v", err)
	}

	after := service.engineSetFingerprint(cfg.Engines.Enabled)
	if before == after {
		t.Fatalf("expected engine-set fingerprint to change after UpdateDefinitions")
	}
}
