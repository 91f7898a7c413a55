package update

import "github.com/danielpatrickdp/preference-engine/internal/state"

// #region schedule
// Schedule maps accumulated feedback to a learning rate:
// max(Floor, Base * Decay^(count/10)).
type Schedule struct {
	Base  float64 // rate at zero feedback (default 0.25)
	Floor float64 // asymptotic minimum (default 0.05)
	Decay float64 // per-ten-events multiplier (default 0.85)
}

// DefaultSchedule returns the standard schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		Base:  0.25,
		Floor: 0.05,
		Decay: 0.85,
	}
}

// #endregion schedule

// #region decision
// Decision records what the update function decided.
type Decision struct {
	Action string // "commit" | "no_op"
	Reason string
}

// #endregion decision

// #region metrics
// TraitMetric captures how far one trait moved.
type TraitMetric struct {
	Name  string
	Delta float64
}

// Metrics captures telemetry from an update.
type Metrics struct {
	LearningRate float64
	DeltaNorm    float64
	TraitsMoved  []string
	TraitMetrics []TraitMetric
}

// #endregion metrics

// #region update-result
// Result bundles everything returned by Apply.
type Result struct {
	Profile  state.Profile
	Decision Decision
	Metrics  Metrics
}

// #endregion update-result
