// Package core wires the guard, engines, cache, scheduler, orchestrator,
// monitor, quarantine store, and elevation manager into a single Service
// implementing the library's external Core contract.
package core

import (
	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/scheduler"
)

// ScanMode selects how aggressively a scan target is walked.
type ScanMode string

const (
	ModeQuick  ScanMode = "quick"
	ModeFull   ScanMode = "full"
	ModeCustom ScanMode = "custom"
)

// ScanTarget names what to scan: a single file or a directory tree.
type ScanTarget struct {
	Path      string
	Recursive bool
}

// ScanPolicy carries the per-scan overrides of the ambient scan
// configuration: which engines to consult, how aggressively to walk, and
// whether to consult the cache.
type ScanPolicy struct {
	Engines  []config.Engine
	Mode     ScanMode
	Priority scheduler.Priority
	UseCache bool
}

// ScanGroupID identifies one in-flight or completed scan group.
type ScanGroupID string

// DefaultPolicy returns a policy consulting every enabled engine at
// Interactive priority with the cache enabled, suitable for a single
// user-initiated file scan.
func DefaultPolicy(cfg *config.Configuration) ScanPolicy {
	return ScanPolicy{
		Engines:  cfg.Engines.Enabled,
		Mode:     ModeQuick,
		Priority: scheduler.PriorityInteractive,
		UseCache: true,
	}
}
