package update

import (
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// negativeScale halves the step taken away from a disliked profile.
const negativeScale = 0.5

// #region rate
// Rate returns the learning rate for a profile that has seen feedbackCount events.
func (s Schedule) Rate(feedbackCount int) float64 {
	if feedbackCount < 0 {
		feedbackCount = 0
	}
	r := s.Base * math.Pow(s.Decay, float64(feedbackCount)/10)
	return math.Max(s.Floor, r)
}

// Phase labels how settled the profile is at a given feedback count.
func Phase(feedbackCount int) string {
	switch {
	case feedbackCount < 10:
		return "early"
	case feedbackCount < 25:
		return "building"
	case feedbackCount < 50:
		return "refining"
	default:
		return "fine_tuning"
	}
}

// #endregion rate

// #region update-function
// Apply is a pure function computing the profile after one feedback event.
// Positive feedback moves each trait toward profileUsed; negative feedback
// moves it away at half the rate. Callers must apply each event once.
func Apply(old state.Profile, outcome state.Outcome, profileUsed trait.Vector, sched Schedule) Result {
	rate := sched.Rate(old.FeedbackCount)

	next := old
	metrics := Metrics{LearningRate: rate}
	var sumSq float64

	for _, t := range trait.All {
		cur := old.Traits.Get(t)
		delta := profileUsed.Get(t) - cur

		var v float64
		switch outcome {
		case state.OutcomePositive:
			v = cur + delta*rate
		case state.OutcomeNegative:
			v = cur - delta*rate*negativeScale
		default:
			v = cur
		}
		next.Traits = next.Traits.With(t, v)

		moved := next.Traits.Get(t) - cur
		metrics.TraitMetrics = append(metrics.TraitMetrics, TraitMetric{Name: t.String(), Delta: moved})
		if moved != 0 {
			metrics.TraitsMoved = append(metrics.TraitsMoved, t.String())
		}
		sumSq += moved * moved
	}
	metrics.DeltaNorm = math.Sqrt(sumSq)

	now := time.Now().UTC()
	next.FeedbackCount = old.FeedbackCount + 1
	next.LastLearningRate = rate
	next.LastUpdated = &now

	decision := Decision{Action: "no_op", Reason: "profile unchanged"}
	if metrics.DeltaNorm > 0 {
		decision = Decision{
			Action: "commit",
			Reason: fmt.Sprintf("%s feedback moved %v, delta norm %.6f", outcome, metrics.TraitsMoved, metrics.DeltaNorm),
		}
	}

	return Result{
		Profile:  next,
		Decision: decision,
		Metrics:  metrics,
	}
}

// #endregion update-function
