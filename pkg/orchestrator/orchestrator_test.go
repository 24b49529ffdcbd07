package orchestrator

import (
	"context"
	"testing"
	"testing/quick"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/engine"
)

func TestReduceAVThenHeuristicAVMalicious(t *testing.T) {
	results := []engine.Result{
		{Engine: config.EngineAV, Verdict: engine.VerdictMalicious, Severity: engine.SeverityHigh, Family: "trojan.generic"},
		{Engine: config.EngineHeuristic, Verdict: engine.VerdictClean},
	}
	composite := Reduce(config.ConsensusAVThenHeuristic, 50, results)
	if composite.Verdict != engine.VerdictMalicious {
		t.Fatalf("expected Malicious, got %v", composite.Verdict)
	}
	if composite.Family != "trojan.generic" {
		t.Errorf("expected AV family to dominate, got %q", composite.Family)
	}
}

func TestReduceAVThenHeuristicCleanBelowThreshold(t *testing.T) {
	results := []engine.Result{
		{Engine: config.EngineAV, Verdict: engine.VerdictClean},
		{Engine: config.EngineHeuristic, Verdict: engine.VerdictSuspicious, Confidence: 49, Severity: engine.SeverityMedium},
	}
	composite := Reduce(config.ConsensusAVThenHeuristic, 50, results)
	if composite.Verdict != engine.VerdictClean {
		t.Fatalf("expected Clean below threshold, got %v", composite.Verdict)
	}
}

func TestReduceAVThenHeuristicEscalatesAtThreshold(t *testing.T) {
	results := []engine.Result{
		{Engine: config.EngineAV, Verdict: engine.VerdictClean},
		{Engine: config.EngineHeuristic, Verdict: engine.VerdictSuspicious, Confidence: 50, Severity: engine.SeverityMedium, Family: "heur.packed"},
	}
	composite := Reduce(config.ConsensusAVThenHeuristic, 50, results)
	if composite.Verdict != engine.VerdictSuspicious {
		t.Fatalf("expected heuristic escalation to Suspicious, got %v", composite.Verdict)
	}
	if composite.Family != "heur.packed" {
		t.Errorf("expected heuristic family after escalation, got %q", composite.Family)
	}
}

func TestReduceAVThenHeuristicAVUnavailableFallsBackToHeuristic(t *testing.T) {
	results := []engine.Result{
		{Engine: config.EngineAV, Err: context.DeadlineExceeded},
		{Engine: config.EngineHeuristic, Verdict: engine.VerdictMalicious, Severity: engine.SeverityCritical, Family: "heur.dropper"},
	}
	composite := Reduce(config.ConsensusAVThenHeuristic, 50, results)
	if composite.Verdict != engine.VerdictMalicious {
		t.Fatalf("expected heuristic to stand in alone, got %v", composite.Verdict)
	}
}

func TestReduceAllEnginesRequiresUnanimousClean(t *testing.T) {
	results := []engine.Result{
		{Engine: config.EngineAV, Verdict: engine.VerdictClean},
		{Engine: config.EngineHeuristic, Verdict: engine.VerdictSuspicious, Severity: engine.SeverityLow},
	}
	composite := Reduce(config.ConsensusAllEngines, 50, results)
	if composite.Verdict != engine.VerdictSuspicious {
		t.Fatalf("expected any non-clean engine to break unanimity, got %v", composite.Verdict)
	}
}

// TestReduceCompositeVerdictOrderIndependent is a property-based check that
// Reduce's output never depends on the order results are supplied in,
// across every consensus policy and a randomized mix of verdicts.
func TestReduceCompositeVerdictOrderIndependent(t *testing.T) {
	policies := []config.ConsensusPolicy{
		config.ConsensusAVOnly,
		config.ConsensusAVThenHeuristic,
		config.ConsensusHybrid,
		config.ConsensusAllEngines,
	}
	verdicts := []engine.Verdict{engine.VerdictClean, engine.VerdictSuspicious, engine.VerdictMalicious, engine.VerdictSkipped}
	engines := []config.Engine{config.EngineAV, config.EngineHeuristic, config.EngineRootkit}

	property := func(seed uint32, severitySeed uint8) bool {
		results := make([]engine.Result, len(engines))
		for i, e := range engines {
			results[i] = engine.Result{
				Engine:     e,
				Verdict:    verdicts[(seed>>uint(4*i))%uint32(len(verdicts))],
				Severity:   engine.Severity(int(severitySeed>>uint(2*i)) % 4),
				Confidence: float64((seed + uint32(i)) % 101),
			}
		}
		forward := make([]engine.Result, len(results))
		copy(forward, results)
		reversed := make([]engine.Result, len(results))
		for i, r := range results {
			reversed[len(results)-1-i] = r
		}

		for _, policy := range policies {
			a := Reduce(policy, 50, forward)
			b := Reduce(policy, 50, reversed)
			if a.Verdict != b.Verdict || a.Severity != b.Severity || a.Family != b.Family {
				return false
			}
		}
		return true
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
