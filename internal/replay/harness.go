package replay

import (
	"math"

	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

// #region types
// ReplayResult captures the outcome of re-applying one feedback event.
type ReplayResult struct {
	Seq     int
	Outcome state.Outcome
	Action  string // "commit" | "no_op"
	Reason  string

	UpdateMetrics update.Metrics
	Traits        trait.Vector // profile traits after this event
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalEvents  int
	Commits      int
	NoOps        int
	Positive     int
	Negative     int
	FinalProfile state.Profile
}

// Drift compares a stored profile with the one its feedback log produces.
type Drift struct {
	MaxDelta      float64
	Trait         string // trait with the largest difference
	CountMismatch bool
	Match         bool
}

// #endregion types

// #region replay
// Replay applies events in order to start and returns the per-event results
// and the final profile. It runs entirely in memory.
func Replay(start state.Profile, events []state.FeedbackEvent, sched update.Schedule) ([]ReplayResult, state.Profile) {
	current := start
	results := make([]ReplayResult, 0, len(events))

	for _, ev := range events {
		r := update.Apply(current, ev.Outcome, ev.ProfileUsed, sched)
		current = r.Profile
		results = append(results, ReplayResult{
			Seq:           ev.Seq,
			Outcome:       ev.Outcome,
			Action:        r.Decision.Action,
			Reason:        r.Decision.Reason,
			UpdateMetrics: r.Metrics,
			Traits:        current.Traits,
		})
	}
	return results, current
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final state.Profile) ReplaySummary {
	s := ReplaySummary{
		TotalEvents:  len(results),
		FinalProfile: final,
	}
	for _, r := range results {
		switch r.Action {
		case "commit":
			s.Commits++
		case "no_op":
			s.NoOps++
		}
		switch r.Outcome {
		case state.OutcomePositive:
			s.Positive++
		case state.OutcomeNegative:
			s.Negative++
		}
	}
	return s
}

// Compare reports how far stored is from replayed. Traits within tolerance
// and equal feedback counts match.
func Compare(stored, replayed state.Profile, tolerance float64) Drift {
	d := Drift{CountMismatch: stored.FeedbackCount != replayed.FeedbackCount}
	for _, t := range trait.All {
		diff := math.Abs(stored.Traits.Get(t) - replayed.Traits.Get(t))
		if diff > d.MaxDelta {
			d.MaxDelta = diff
			d.Trait = t.String()
		}
	}
	d.Match = !d.CountMismatch && d.MaxDelta <= tolerance
	return d
}

// #endregion replay
