package eval

import (
	"fmt"
	"math"
)

// Predictor scores a feature vector as the probability that it favours the
// chosen side of a pair.
type Predictor interface {
	PredictProbability(x []float64) float64
}

// #region eval-harness
// EvalHarness measures how well a reward model orders comparison pairs.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run scores every pair difference (embed(chosen) - embed(rejected)) and
// reports pairwise accuracy: the fraction with probability above 0.5.
// With fewer than MinPairs pairs the accuracy check is informational.
func (h *EvalHarness) Run(model Predictor, diffs [][]float64) EvalResult {
	if len(diffs) == 0 {
		return EvalResult{
			Passed: true,
			Reason: "no pairs to evaluate",
		}
	}

	var correct int
	var marginSum float64
	for _, d := range diffs {
		p := model.PredictProbability(d)
		if p > 0.5 {
			correct++
		}
		marginSum += p - 0.5
	}
	accuracy := float64(correct) / float64(len(diffs))
	margin := marginSum / float64(len(diffs))

	enough := len(diffs) >= h.config.MinPairs
	accPass := accuracy >= h.config.MinAccuracy
	metrics := []EvalMetric{
		{Name: "pairwise_accuracy", Value: accuracy, Pass: accPass},
		{Name: "mean_margin", Value: margin, Pass: margin >= 0},
		{Name: "pair_count", Value: float64(len(diffs)), Pass: enough},
	}

	passed := accPass || !enough
	reason := "all checks passed"
	switch {
	case !accPass && !enough:
		reason = fmt.Sprintf("accuracy %.4f below %.4f on %d pairs (informational)", accuracy, h.config.MinAccuracy, len(diffs))
	case !accPass:
		reason = fmt.Sprintf("eval failed: accuracy %.4f below %.4f", accuracy, h.config.MinAccuracy)
	}

	return EvalResult{
		Passed:   passed,
		Accuracy: round4(accuracy),
		Metrics:  metrics,
		Reason:   reason,
	}
}

// #endregion eval-harness

// #region helpers
func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// #endregion helpers
