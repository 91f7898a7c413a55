package eval

import (
	"strings"
	"testing"
)

// signModel predicts from the sign of the first feature.
type signModel struct{}

func (signModel) PredictProbability(x []float64) float64 {
	switch {
	case x[0] > 0:
		return 0.9
	case x[0] < 0:
		return 0.1
	}
	return 0.5
}

func TestEvalPassesOnEmpty(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(signModel{}, nil)
	if !result.Passed {
		t.Fatalf("expected pass on empty input, got fail: %s", result.Reason)
	}
	if result.Accuracy != 0 {
		t.Fatalf("expected zero accuracy, got %f", result.Accuracy)
	}
}

func TestEvalPerfectAccuracy(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(signModel{}, [][]float64{{1}, {2}, {0.5}})
	if !result.Passed || result.Accuracy != 1 {
		t.Fatalf("expected accuracy 1 and pass, got %+v", result)
	}
	if len(result.Metrics) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(result.Metrics))
	}
}

func TestEvalTieCountsAsWrong(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(signModel{}, [][]float64{{1}, {0}})
	if result.Accuracy != 0.5 {
		t.Fatalf("expected 0.5, got %f", result.Accuracy)
	}
}

func TestEvalFailsBelowThreshold(t *testing.T) {
	config := DefaultEvalConfig()
	config.MinAccuracy = 0.75
	h := NewEvalHarness(config)

	result := h.Run(signModel{}, [][]float64{{1}, {-1}, {-1}, {1}})

	if result.Passed {
		t.Fatal("expected fail at 0.5 accuracy")
	}
	if !strings.Contains(result.Reason, "eval failed") {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestEvalSmallSampleIsInformational(t *testing.T) {
	config := DefaultEvalConfig()
	config.MinAccuracy = 0.9
	h := NewEvalHarness(config)

	result := h.Run(signModel{}, [][]float64{{-1}, {1}})

	if !result.Passed {
		t.Fatalf("small sample should not fail: %s", result.Reason)
	}
	if !strings.Contains(result.Reason, "informational") {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestEvalAccuracyRounded(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(signModel{}, [][]float64{{1}, {1}, {-1}})
	if result.Accuracy != 0.6667 {
		t.Fatalf("expected 0.6667, got %f", result.Accuracy)
	}
}
