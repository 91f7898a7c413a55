package eval

// #region eval-config
// EvalConfig holds thresholds for reward model validation.
type EvalConfig struct {
	MinAccuracy float64 // pairwise accuracy below this fails the check
	MinPairs    int     // fewer evaluation pairs than this is informational only
}

// DefaultEvalConfig returns the default thresholds. An untrained model sits
// at 0.5, so anything at or above chance passes.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinAccuracy: 0.5,
		MinPairs:    3,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of reward model validation.
type EvalResult struct {
	Passed   bool
	Accuracy float64
	Metrics  []EvalMetric
	Reason   string
}

// #endregion eval-result
