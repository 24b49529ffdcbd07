// Package config defines the typed configuration object consumed by the
// core at startup, loaded once from a YAML file on disk.
package config

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xanados/searchdestroy-core/pkg/encoding"
)

// ByteSize is a uint64 value that supports unmarshalling from both
// human-friendly string representations ("64MB") and plain byte counts.
type ByteSize uint64

// UnmarshalText implements the text unmarshalling interface used by
// gopkg.in/yaml.v3 when decoding scalar configuration values.
func (s *ByteSize) UnmarshalText(textBytes []byte) error {
	value, err := humanize.ParseBytes(string(textBytes))
	if err != nil {
		return err
	}
	*s = ByteSize(value)
	return nil
}

// ConsensusPolicy identifies a strategy for reducing per-engine results into
// a composite verdict.
type ConsensusPolicy string

const (
	// ConsensusAVOnly trusts the AV engine's verdict exclusively.
	ConsensusAVOnly ConsensusPolicy = "av_only"
	// ConsensusAVThenHeuristic trusts the AV engine's verdict whenever it
	// reports Suspicious or Malicious, or is unavailable and the heuristic
	// engine must stand in alone. When AV reports Clean, the heuristic
	// result is still consulted and escalates the composite verdict to
	// Suspicious if its score meets Consensus.HeuristicThreshold.
	ConsensusAVThenHeuristic ConsensusPolicy = "av_then_heuristic"
	// ConsensusHybrid combines AV and heuristic results, escalating severity
	// on disagreement rather than picking one engine as authoritative.
	ConsensusHybrid ConsensusPolicy = "hybrid_consensus"
	// ConsensusAllEngines requires every configured engine to agree on
	// Clean before a file is reported Clean.
	ConsensusAllEngines ConsensusPolicy = "all_engines"
)

// Engine identifies one of the pluggable scanning engines.
type Engine string

const (
	EngineAV        Engine = "av"
	EngineHeuristic Engine = "heuristic"
	EngineRootkit   Engine = "rootkit"
)

// ScanConfiguration holds the scan.* options.
type ScanConfiguration struct {
	MaxFileSize           ByteSize `yaml:"max_file_size"`
	TimeoutPerFileMillis  uint64   `yaml:"timeout_per_file_ms"`
	ArchiveRecursionDepth uint32   `yaml:"archive_recursion_depth"`
	MaxArchiveEntries     uint32   `yaml:"max_archive_entries"`
	FollowSymlinks        bool     `yaml:"follow_symlinks"`
	ScopeRoot             string   `yaml:"scope_root"`
	DenyPatterns          []string `yaml:"deny_patterns"`
	AllowPatterns         []string `yaml:"allow_patterns"`
}

// TimeoutPerFile returns the configured per-file engine timeout as a
// time.Duration.
func (s ScanConfiguration) TimeoutPerFile() time.Duration {
	return time.Duration(s.TimeoutPerFileMillis) * time.Millisecond
}

// CacheConfiguration holds the cache.* options.
type CacheConfiguration struct {
	ByteBudget ByteSize `yaml:"byte_budget"`
	TTLSeconds uint64   `yaml:"ttl_seconds"`
	Persist    bool     `yaml:"persist"`
}

// TTL returns the configured per-entry cache TTL as a time.Duration.
func (c CacheConfiguration) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// WorkersConfiguration holds the workers.* options.
type WorkersConfiguration struct {
	Min uint32 `yaml:"min"`
	Max uint32 `yaml:"max"`
}

// MonitorConfiguration holds the monitor.* options.
type MonitorConfiguration struct {
	Paths   []string `yaml:"paths"`
	RateCap uint32   `yaml:"rate_cap"`
}

// SessionConfiguration holds the session.* options.
type SessionConfiguration struct {
	TTLSeconds uint64 `yaml:"ttl_seconds"`
}

// TTL returns the configured elevation session lifetime as a time.Duration.
func (s SessionConfiguration) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// QuarantineConfiguration holds the quarantine.* options.
type QuarantineConfiguration struct {
	Root string `yaml:"root"`
}

// ConsensusConfiguration holds the consensus.* options.
type ConsensusConfiguration struct {
	Policy ConsensusPolicy `yaml:"policy"`
	// HeuristicThreshold is the minimum heuristic confidence score, on a
	// 0-100 scale, at which AVThenHeuristic escalates an AV-Clean verdict to
	// Suspicious.
	HeuristicThreshold float64 `yaml:"heuristic_threshold"`
}

// DefaultHeuristicThreshold is the heuristic score, on a 0-100 scale, at or
// above which AVThenHeuristic escalates an AV-Clean verdict to Suspicious.
const DefaultHeuristicThreshold = 50.0

// EnginesConfiguration holds the engines.* options.
type EnginesConfiguration struct {
	Enabled []Engine           `yaml:"enabled"`
	Timeout uint64             `yaml:"timeout_ms"`
	Command map[Engine][]string `yaml:"command"`
}

// Enables reports whether the named engine is in the enabled subset.
func (e EnginesConfiguration) Enables(engine Engine) bool {
	for _, candidate := range e.Enabled {
		if candidate == engine {
			return true
		}
	}
	return false
}

// CommandFor returns the configured command line for the named engine,
// falling back to a conventional binary name if none is configured.
func (e EnginesConfiguration) CommandFor(engine Engine) []string {
	if command, ok := e.Command[engine]; ok && len(command) > 0 {
		return command
	}
	return []string{"sd-engine-" + string(engine)}
}

// Configuration is the root typed configuration object recognized by the
// core. It is read once at startup from a YAML file and never mutated
// afterward; components receive immutable copies or sub-structs of it.
type Configuration struct {
	Scan       ScanConfiguration       `yaml:"scan"`
	Cache      CacheConfiguration      `yaml:"cache"`
	Workers    WorkersConfiguration    `yaml:"workers"`
	Monitor    MonitorConfiguration    `yaml:"monitor"`
	Session    SessionConfiguration    `yaml:"session"`
	Quarantine QuarantineConfiguration `yaml:"quarantine"`
	Consensus  ConsensusConfiguration  `yaml:"consensus"`
	Engines    EnginesConfiguration    `yaml:"engines"`
}

// Default returns the built-in configuration used when no file is present
// at the configured path.
func Default() *Configuration {
	return &Configuration{
		Scan: ScanConfiguration{
			MaxFileSize:           ByteSize(100 * 1024 * 1024),
			TimeoutPerFileMillis:  30000,
			ArchiveRecursionDepth: 4,
			MaxArchiveEntries:     10000,
			FollowSymlinks:        false,
			ScopeRoot:             "/",
			DenyPatterns:          nil,
			AllowPatterns:         nil,
		},
		Cache: CacheConfiguration{
			ByteBudget: ByteSize(64 * 1024 * 1024),
			TTLSeconds: 3600,
			Persist:    true,
		},
		Workers: WorkersConfiguration{
			Min: 2,
			Max: 8,
		},
		Monitor: MonitorConfiguration{
			Paths:   nil,
			RateCap: 200,
		},
		Session: SessionConfiguration{
			TTLSeconds: 300,
		},
		Quarantine: QuarantineConfiguration{
			Root: "",
		},
		Consensus: ConsensusConfiguration{
			Policy:             ConsensusHybrid,
			HeuristicThreshold: DefaultHeuristicThreshold,
		},
		Engines: EnginesConfiguration{
			Enabled: []Engine{EngineAV, EngineHeuristic, EngineRootkit},
		},
	}
}

// Load attempts to load a YAML configuration file from the specified path,
// starting from the built-in defaults so that a partial file only overrides
// the options it names.
func Load(path string) (*Configuration, error) {
	result := Default()
	if err := encoding.LoadAndUnmarshalYAML(path, result); err != nil {
		return nil, err
	}
	return result, nil
}
