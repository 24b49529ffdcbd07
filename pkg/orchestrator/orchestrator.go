// Package orchestrator reduces per-engine scan results into a single
// composite verdict according to the configured ConsensusPolicy. Reduction
// is a pure function of its inputs, mirroring the field-by-field
// deterministic comparison idiom used elsewhere in this codebase.
package orchestrator

import (
	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/engine"
)

// CompositeVerdict is the reduction of all per-engine results for one file.
type CompositeVerdict struct {
	Verdict   engine.Verdict
	Severity  engine.Severity
	Family    string
	PerEngine []engine.Result
}

// Reduce computes the composite verdict for a set of per-engine results
// under the given consensus policy. For results naming distinct engines, the
// order of results does not affect the output: AVOnly and AVThenHeuristic
// look results up by engine, and the other policies fold them with
// applyMostSevere, whose outcome does not depend on order. heuristicThreshold is the
// minimum heuristic confidence score (0-100) at which AVThenHeuristic
// escalates an AV-Clean verdict to Suspicious.
func Reduce(policy config.ConsensusPolicy, heuristicThreshold float64, results []engine.Result) CompositeVerdict {
	composite := CompositeVerdict{Verdict: engine.VerdictClean, PerEngine: results}

	byEngine := make(map[config.Engine]engine.Result, len(results))
	for _, r := range results {
		byEngine[r.Engine] = r
	}

	switch policy {
	case config.ConsensusAVOnly:
		if av, ok := byEngine[config.EngineAV]; ok {
			applyDominant(&composite, av)
		}
	case config.ConsensusAVThenHeuristic:
		av, avOK := byEngine[config.EngineAV]
		heuristic, heuristicOK := byEngine[config.EngineHeuristic]
		switch {
		case avOK && av.Err == nil && av.Verdict != engine.VerdictSkipped && av.Verdict != engine.VerdictClean:
			// AV already flagged the file; its verdict is authoritative.
			applyDominant(&composite, av)
		case avOK && av.Err == nil && av.Verdict == engine.VerdictClean:
			// AV found nothing, but the heuristic engine still gets a say:
			// a sufficiently confident heuristic hit escalates Clean to
			// Suspicious rather than being silently discarded.
			applyDominant(&composite, av)
			if heuristicOK && heuristic.Err == nil && heuristic.Verdict != engine.VerdictSkipped &&
				heuristic.Confidence >= heuristicThreshold && verdictRank(composite.Verdict) < verdictRank(engine.VerdictSuspicious) {
				composite.Verdict = engine.VerdictSuspicious
				composite.Severity = heuristic.Severity
				composite.Family = heuristic.Family
			}
		case heuristicOK:
			// AV is missing, errored, or skipped; the heuristic engine
			// stands in alone.
			applyDominant(&composite, heuristic)
		}
	case config.ConsensusAllEngines:
		allClean := true
		for _, r := range results {
			if r.Verdict != engine.VerdictClean && r.Verdict != engine.VerdictSkipped {
				allClean = false
			}
			applyMostSevere(&composite, r)
		}
		if allClean {
			composite.Verdict = engine.VerdictClean
		}
	default: // config.ConsensusHybrid and any unrecognized value fall back to it
		for _, r := range results {
			applyMostSevere(&composite, r)
		}
	}

	return composite
}

// applyDominant sets the composite verdict directly from a single
// authoritative engine result.
func applyDominant(composite *CompositeVerdict, result engine.Result) {
	composite.Verdict = result.Verdict
	composite.Severity = result.Severity
	composite.Family = result.Family
}

// applyMostSevere folds result into composite, keeping whichever of the two
// ranks higher by verdict total order (Clean < Suspicious < Malicious), then
// by Severity when the verdicts are equal, then by the lexicographically
// smaller Family when both are equal, so the fold does not depend on the
// order of results. Any engine flagging a file raises the composite verdict,
// never lowers it.
func applyMostSevere(composite *CompositeVerdict, result engine.Result) {
	if result.Err != nil || result.Verdict == engine.VerdictSkipped {
		return
	}
	sameVerdict := verdictRank(result.Verdict) == verdictRank(composite.Verdict)
	if verdictRank(result.Verdict) > verdictRank(composite.Verdict) ||
		(sameVerdict && result.Severity > composite.Severity) ||
		(sameVerdict && result.Severity == composite.Severity && result.Family < composite.Family) {
		composite.Verdict = result.Verdict
		composite.Severity = result.Severity
		composite.Family = result.Family
	}
}

// verdictRank imposes the total order Clean < Suspicious < Malicious used to
// decide which engine's verdict dominates when folding results together.
// Skipped is excluded: a skip from one engine never affects the composite,
// since applyMostSevere and the AV-then-heuristic branch filter it out
// before comparison.
func verdictRank(v engine.Verdict) int {
	switch v {
	case engine.VerdictMalicious:
		return 2
	case engine.VerdictSuspicious:
		return 1
	default:
		return 0
	}
}
