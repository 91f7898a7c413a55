// Package reward trains per-user reward models from comparison pairs and
// scores candidate responses with them.
package reward

import (
	"errors"
	"fmt"
	"math"
)

// #region interfaces
// Classifier fits a binary model on weighted samples.
type Classifier interface {
	Fit(X [][]float64, y []float64, w []float64) (Model, error)
}

// Model predicts the probability that a sample belongs to class 1.
type Model interface {
	PredictProbability(x []float64) float64
	Weights() []float64
}

// #endregion interfaces

// #region logistic
// Logistic is L2-regularized logistic regression without an intercept,
// fitted by full-batch gradient descent from a zero start. Without an
// intercept p(-x) = 1 - p(x), so a pair and its mirror always disagree.
type Logistic struct {
	Lambda       float64 // L2 penalty
	LearningRate float64
	Iterations   int
}

// DefaultLogistic returns the trainer's default classifier.
func DefaultLogistic() Logistic {
	return Logistic{
		Lambda:       0.01,
		LearningRate: 0.5,
		Iterations:   300,
	}
}

// Fit implements Classifier. w may be nil for uniform weights.
func (l Logistic) Fit(X [][]float64, y []float64, w []float64) (Model, error) {
	if len(X) == 0 {
		return nil, errors.New("fit: no samples")
	}
	if len(y) != len(X) {
		return nil, fmt.Errorf("fit: %d samples but %d labels", len(X), len(y))
	}
	if w != nil && len(w) != len(X) {
		return nil, fmt.Errorf("fit: %d samples but %d weights", len(X), len(w))
	}
	dims := len(X[0])
	if dims == 0 {
		return nil, errors.New("fit: zero-width samples")
	}
	var totalWeight float64
	for i, x := range X {
		if len(x) != dims {
			return nil, fmt.Errorf("fit: sample %d has %d features, want %d", i, len(x), dims)
		}
		totalWeight += weightAt(w, i)
	}
	if totalWeight <= 0 {
		return nil, errors.New("fit: total sample weight is zero")
	}

	coef := make([]float64, dims)
	grad := make([]float64, dims)
	for iter := 0; iter < l.Iterations; iter++ {
		for j := range grad {
			grad[j] = l.Lambda * coef[j]
		}
		for i, x := range X {
			r := weightAt(w, i) * (sigmoid(dot(coef, x)) - y[i]) / totalWeight
			for j, xj := range x {
				grad[j] += r * xj
			}
		}
		for j := range coef {
			coef[j] -= l.LearningRate * grad[j]
		}
	}
	return &LinearModel{W: coef}, nil
}

func weightAt(w []float64, i int) float64 {
	if w == nil {
		return 1
	}
	return w[i]
}

// #endregion logistic

// #region linear-model
// LinearModel is sigmoid(W·x).
type LinearModel struct {
	W []float64
}

// PredictProbability implements Model. A feature vector of the wrong width scores 0.5.
func (m *LinearModel) PredictProbability(x []float64) float64 {
	if len(x) != len(m.W) {
		return 0.5
	}
	return sigmoid(dot(m.W, x))
}

// Weights implements Model.
func (m *LinearModel) Weights() []float64 { return m.W }

// #endregion linear-model

// #region helpers
func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// #endregion helpers
