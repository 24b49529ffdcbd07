// Package engine defines the uniform adapter interface over the pluggable
// scanning engines (AV, Heuristic, Rootkit) and the composite result types
// the orchestrator reduces.
package engine

import (
	"context"
	"time"

	"github.com/xanados/searchdestroy-core/pkg/config"
)

// Verdict is the outcome an engine reaches about a single file.
type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
	VerdictSkipped    Verdict = "skipped"
)

// Severity orders verdict/detection severity from least to most urgent. The
// zero value is the least severe, so a default-initialized Severity never
// outranks a populated one.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Result is a single engine's finding for one file.
type Result struct {
	Engine     config.Engine
	Verdict    Verdict
	Severity   Severity
	Family     string
	Confidence float64
	RawOutput  string
	SkipReason string
	Err        error
	Duration   time.Duration
}

// Adapter is implemented by every pluggable scanning engine.
type Adapter interface {
	// Name identifies the engine for configuration and reporting purposes.
	Name() config.Engine
	// Scan scans the file at path and returns a Result. It must check
	// cancelled between bounded work units so that a scan-group cancel is
	// observable within the responsiveness bound the scheduler requires.
	Scan(ctx context.Context, path string, cancelled <-chan struct{}) (Result, error)
	// Warmup prepares the engine to scan (loading rulesets, connecting to a
	// subprocess) ahead of the first Scan call, and is re-invoked to pick up
	// updated detection definitions.
	Warmup(ctx context.Context) error
	// DefinitionsFingerprint identifies the detection definitions currently
	// loaded by the engine; it is part of every cache key so that an engine
	// upgrade invalidates stale cache entries lazily rather than requiring an
	// eager flush.
	DefinitionsFingerprint(ctx context.Context) (string, error)
	// Close releases any resources (child processes, connections) held by
	// the adapter.
	Close() error
}
