package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/logging"
	"github.com/xanados/searchdestroy-core/pkg/process"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// request is the JSON-line request sent to a scan engine subprocess. Op
// selects the operation ("scan", "warmup", or "fingerprint"); Path is only
// meaningful for "scan".
type request struct {
	Op   string `json:"op"`
	Path string `json:"path"`
}

// response is the JSON-line response read back from a scan engine
// subprocess.
type response struct {
	Verdict     string  `json:"verdict"`
	Severity    int     `json:"severity"`
	Family      string  `json:"family"`
	Confidence  float64 `json:"confidence"`
	Raw         string  `json:"raw"`
	Error       string  `json:"error"`
	Fingerprint string  `json:"fingerprint"`
}

// ProcessAdapter runs a scan engine as a long-lived subprocess, speaking a
// newline-delimited JSON request/response protocol over its standard
// input/output, reconnecting with exponential backoff when the subprocess is
// unavailable or has crashed.
type ProcessAdapter struct {
	name    config.Engine
	command []string
	timeout time.Duration
	logger  *logging.Logger

	mutex  sync.Mutex
	stream *process.Stream
	reader *bufio.Reader
	cmd    *exec.Cmd
}

// NewProcessAdapter constructs a ProcessAdapter for the named engine. command
// is the subprocess argv; command[0] is resolved via exec.LookPath semantics.
func NewProcessAdapter(name config.Engine, command []string, timeout time.Duration, logger *logging.Logger) *ProcessAdapter {
	return &ProcessAdapter{
		name:    name,
		command: command,
		timeout: timeout,
		logger:  logger.Sublogger(string(name)),
	}
}

// Name implements Adapter.Name.
func (a *ProcessAdapter) Name() config.Engine {
	return a.name
}

// connect starts the subprocess if it is not already running. It must be
// called with a.mutex held.
func (a *ProcessAdapter) connect() error {
	if a.cmd != nil && a.cmd.ProcessState == nil {
		return nil
	}

	cmd := exec.Command(a.command[0], a.command[1:]...)
	stream, err := process.NewStream(cmd, 2*time.Second)
	if err != nil {
		return sderrors.Wrap(sderrors.KindEngineUnavailable, err, "unable to create process stream")
	}
	if err := cmd.Start(); err != nil {
		return sderrors.Wrap(sderrors.KindEngineUnavailable, err, "unable to start engine process")
	}

	a.cmd = cmd
	a.stream = stream
	a.reader = bufio.NewReader(stream)
	return nil
}

// ensureConnected retries connect with exponential backoff, bounded so a
// permanently missing engine binary surfaces as KindEngineUnavailable rather
// than retrying forever.
func (a *ProcessAdapter) ensureConnected() error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 5 * time.Second

	var lastErr error
	err := backoff.Retry(func() error {
		if err := a.connect(); err != nil {
			lastErr = err
			a.logger.Debugf("engine connect attempt failed: %v", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return sderrors.Wrap(sderrors.KindEngineUnavailable, err, "engine unreachable")
	}
	return nil
}

// Scan implements Adapter.Scan.
func (a *ProcessAdapter) Scan(ctx context.Context, path string, cancelled <-chan struct{}) (Result, error) {
	started := time.Now()

	a.mutex.Lock()
	if err := a.ensureConnected(); err != nil {
		a.mutex.Unlock()
		return Result{Engine: a.name, Err: err}, err
	}

	deadline := a.timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	encoded, err := json.Marshal(request{Op: "scan", Path: path})
	if err != nil {
		a.mutex.Unlock()
		return Result{Engine: a.name, Err: err}, err
	}
	encoded = append(encoded, '\n')

	if _, err := a.stream.Write(encoded); err != nil {
		a.invalidateLocked()
		a.mutex.Unlock()
		wrapped := sderrors.Wrap(sderrors.KindEngineCrashed, err, "unable to write scan request")
		return Result{Engine: a.name, Err: wrapped}, wrapped
	}
	reader := a.reader
	a.mutex.Unlock()

	type readResult struct {
		line []byte
		err  error
	}
	lineCh := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadBytes('\n')
		lineCh <- readResult{line, err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{Engine: a.name, Duration: time.Since(started)}, sderrors.New(sderrors.KindCancelled, "scan cancelled")
	case <-cancelled:
		return Result{Engine: a.name, Duration: time.Since(started)}, sderrors.New(sderrors.KindCancelled, "scan cancelled")
	case <-timer.C:
		a.mutex.Lock()
		a.invalidateLocked()
		a.mutex.Unlock()
		return Result{Engine: a.name, Duration: time.Since(started)}, sderrors.New(sderrors.KindEngineTimeout, "engine did not respond within timeout")
	case read := <-lineCh:
		if read.err != nil {
			a.mutex.Lock()
			a.invalidateLocked()
			a.mutex.Unlock()
			wrapped := sderrors.Wrap(sderrors.KindEngineCrashed, read.err, "engine process terminated")
			return Result{Engine: a.name, Duration: time.Since(started)}, wrapped
		}
		var resp response
		if err := json.Unmarshal(read.line, &resp); err != nil {
			wrapped := sderrors.Wrap(sderrors.KindEngineCrashed, err, "malformed engine response")
			return Result{Engine: a.name, Duration: time.Since(started)}, wrapped
		}
		if resp.Error != "" {
			return Result{Engine: a.name, Duration: time.Since(started)}, sderrors.New(sderrors.KindEngineCrashed, resp.Error)
		}
		const maxRawOutputLength = 4 * 1024
		raw := resp.Raw
		if len(raw) > maxRawOutputLength {
			raw = raw[:maxRawOutputLength]
		}
		return Result{
			Engine:     a.name,
			Verdict:    Verdict(resp.Verdict),
			Severity:   Severity(resp.Severity),
			Family:     resp.Family,
			Confidence: resp.Confidence,
			RawOutput:  raw,
			Duration:   time.Since(started),
		}, nil
	}
}

// Warmup implements Adapter.Warmup by ensuring the subprocess is connected
// and asking it to (re)load its detection definitions.
func (a *ProcessAdapter) Warmup(ctx context.Context) error {
	_, err := a.roundtrip(request{Op: "warmup"})
	return err
}

// DefinitionsFingerprint implements Adapter.DefinitionsFingerprint.
func (a *ProcessAdapter) DefinitionsFingerprint(ctx context.Context) (string, error) {
	resp, err := a.roundtrip(request{Op: "fingerprint"})
	if err != nil {
		return "", err
	}
	return resp.Fingerprint, nil
}

// roundtrip sends a non-scan request and reads back a single JSON-line
// response, reconnecting as needed. It does not poll a cancellation channel
// since warmup/fingerprint requests are not part of the per-file
// cancel-responsiveness bound Scan must meet.
func (a *ProcessAdapter) roundtrip(req request) (response, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.ensureConnected(); err != nil {
		return response{}, err
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	encoded = append(encoded, '\n')
	if _, err := a.stream.Write(encoded); err != nil {
		a.invalidateLocked()
		return response{}, sderrors.Wrap(sderrors.KindEngineCrashed, err, "unable to write request")
	}

	line, err := a.reader.ReadBytes('\n')
	if err != nil {
		a.invalidateLocked()
		return response{}, sderrors.Wrap(sderrors.KindEngineCrashed, err, "engine process terminated")
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, sderrors.Wrap(sderrors.KindEngineCrashed, err, "malformed engine response")
	}
	if resp.Error != "" {
		return response{}, sderrors.New(sderrors.KindEngineCrashed, resp.Error)
	}
	return resp, nil
}

// invalidateLocked marks the current subprocess as dead so the next Scan
// call reconnects. Must be called with a.mutex held.
func (a *ProcessAdapter) invalidateLocked() {
	if a.stream != nil {
		a.stream.Close()
	}
	a.cmd = nil
	a.stream = nil
	a.reader = nil
}

// Close implements Adapter.Close.
func (a *ProcessAdapter) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.stream != nil {
		err := a.stream.Close()
		a.cmd = nil
		a.stream = nil
		a.reader = nil
		return err
	}
	return nil
}
