package ipcserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/core"
	"github.com/xanados/searchdestroy-core/pkg/elevation"
	"github.com/xanados/searchdestroy-core/pkg/engine"
	"github.com/xanados/searchdestroy-core/pkg/logging"
)

type fakeAdapter struct {
	name config.Engine
}

func (a *fakeAdapter) Name() config.Engine { return a.name }
func (a *fakeAdapter) Scan(ctx context.Context, path string, cancelled <-chan struct{}) (engine.Result, error) {
	return engine.Result{Engine: a.name, Verdict: engine.VerdictClean}, nil
}
func (a *fakeAdapter) Warmup(ctx context.Context) error { return nil }
func (a *fakeAdapter) DefinitionsFingerprint(ctx context.Context) (string, error) {
	return "v1", nil
}
func (a *fakeAdapter) Close() error { return nil }

type approvePrompter struct{}

func (approvePrompter) PromptForScopes(scopes []elevation.Scope) (bool, error) { return true, nil }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Scan.ScopeRoot = dir
	cfg.Quarantine.Root = filepath.Join(dir, "quarantine")
	cfg.Engines.Enabled = []config.Engine{config.EngineAV}

	logger := logging.NewLogger(logging.LevelError, os.Stderr)
	adapters := map[config.Engine]engine.Adapter{config.EngineAV: &fakeAdapter{name: config.EngineAV}}

	service, err := core.New(cfg, logger, adapters, approvePrompter{})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(service.Shutdown)

	socketPath := filepath.Join(dir, "test.sock")
	server, err := Listen(socketPath, service, logger)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go server.Serve()
	t.Cleanup(func() { server.Close() })
	return server, socketPath
}

func TestScanRoundTrip(t *testing.T) {
	_, socketPath := newTestServer(t)

	dir := filepath.Dir(socketPath)
	target := filepath.Join(dir, "clean.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), RecommendedDialTimeout)
	defer cancel()
	client, err := Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	groupID, err := client.Scan(target, false)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if groupID == "" {
		t.Fatalf("expected non-empty group ID")
	}
}

func TestQuarantineListEmptyRoundTrip(t *testing.T) {
	_, socketPath := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), RecommendedDialTimeout)
	defer cancel()
	client, err := Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	records, err := client.QuarantineList()
	if err != nil {
		t.Fatalf("QuarantineList: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no quarantine records, got %d", len(records))
	}
}

func TestDialNoListener(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), RecommendedDialTimeout)
	defer cancel()
	if _, err := Dial(ctx, filepath.Join(t.TempDir(), "missing.sock")); err == nil {
		t.Fatalf("expected Dial against a missing socket to fail")
	}
}

func TestSubscribeReceivesScanStarted(t *testing.T) {
	_, socketPath := newTestServer(t)

	dir := filepath.Dir(socketPath)
	target := filepath.Join(dir, "clean.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	subCtx, subCancel := context.WithTimeout(context.Background(), RecommendedDialTimeout)
	defer subCancel()
	subscriber, err := Dial(subCtx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer subscriber.Close()

	events, err := subscriber.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	scanCtx, scanCancel := context.WithTimeout(context.Background(), RecommendedDialTimeout)
	defer scanCancel()
	scanner, err := Dial(scanCtx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer scanner.Close()
	if _, err := scanner.Scan(target, false); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	select {
	case e := <-events:
		if e == nil {
			t.Fatalf("expected a non-nil event")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for an event")
	}
}
