package reward

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/embedding"
	"github.com/danielpatrickdp/preference-engine/internal/eval"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

// PlaceholderWeight is the sample weight for pairs whose contrast text is a placeholder.
const PlaceholderWeight = 0.5

// #region training-result
// Training statuses.
const (
	StatusTrained = "trained"
	StatusNoOp    = "no_op"
	StatusError   = "error"
)

// TrainingResult reports one retraining attempt.
type TrainingResult struct {
	Status       string  `json:"status"`
	PairsUsed    int     `json:"pairs_used"`
	PairsSkipped int     `json:"pairs_skipped"`
	Accuracy     float64 `json:"accuracy"`
	ModelVersion int     `json:"model_version,omitempty"`
	EmbedderID   string  `json:"embedder_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// #endregion training-result

// ModelStore is the persistence the trainer needs.
type ModelStore interface {
	ListPairs(ctx context.Context, userID string) ([]state.ComparisonPair, error)
	SaveModel(ctx context.Context, m state.ModelArtifact) (state.ModelArtifact, error)
}

// #region trainer
// Trainer fits a user's reward model on the full comparison dataset.
type Trainer struct {
	store    ModelStore
	embedder embedding.Embedder
	clf      Classifier
	harness  *eval.EvalHarness
	logger   *zap.Logger
}

// NewTrainer creates a trainer. A nil clf uses DefaultLogistic.
func NewTrainer(store ModelStore, embedder embedding.Embedder, clf Classifier, logger *zap.Logger) *Trainer {
	if clf == nil {
		clf = DefaultLogistic()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		store:    store,
		embedder: embedder,
		clf:      clf,
		harness:  eval.NewEvalHarness(eval.DefaultEvalConfig()),
		logger:   logger.Named("reward"),
	}
}

// Retrain rebuilds the user's model from every stored pair. Each pair yields
// embed(chosen)-embed(rejected) labelled 1 and its negation labelled 0.
// Pairs whose texts cannot be embedded are skipped. The new artifact replaces
// the old one in a single write; on any failure the old one stays.
func (t *Trainer) Retrain(ctx context.Context, userID string) TrainingResult {
	pairs, err := t.store.ListPairs(ctx, userID)
	if err != nil {
		return t.fail(userID, fmt.Errorf("list pairs: %w", err))
	}
	if len(pairs) == 0 {
		return TrainingResult{Status: StatusNoOp, Reason: "no comparison pairs"}
	}

	cache := make(map[string][]float64)
	embed := func(text string) ([]float64, error) {
		if v, ok := cache[text]; ok {
			return v, nil
		}
		v, err := t.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		cache[text] = v
		return v, nil
	}

	var X [][]float64
	var y, w []float64
	var diffs [][]float64
	skipped := 0
	for _, p := range pairs {
		chosen, err := embed(p.Chosen)
		if err != nil {
			skipped++
			t.logger.Warn("skipping pair: embed chosen", zap.String("pair_id", p.ID), zap.Error(err))
			continue
		}
		rejected, err := embed(p.Rejected)
		if err != nil {
			skipped++
			t.logger.Warn("skipping pair: embed rejected", zap.String("pair_id", p.ID), zap.Error(err))
			continue
		}
		if len(chosen) != len(rejected) {
			skipped++
			t.logger.Warn("skipping pair: embedding width mismatch", zap.String("pair_id", p.ID))
			continue
		}

		d := embedding.Sub(chosen, rejected)
		neg := make([]float64, len(d))
		for i := range d {
			neg[i] = -d[i]
		}
		weight := 1.0
		if p.Placeholder {
			weight = PlaceholderWeight
		}
		X = append(X, d, neg)
		y = append(y, 1, 0)
		w = append(w, weight, weight)
		diffs = append(diffs, d)
	}

	if len(diffs) == 0 {
		return TrainingResult{Status: StatusNoOp, PairsSkipped: skipped, Reason: "no usable pairs"}
	}
	if err := ctx.Err(); err != nil {
		return t.fail(userID, err)
	}

	model, err := t.clf.Fit(X, y, w)
	if err != nil {
		return t.fail(userID, fmt.Errorf("fit: %w", err))
	}
	ev := t.harness.Run(model, diffs)
	if !ev.Passed {
		t.logger.Warn("reward model below accuracy threshold", zap.String("user_id", userID), zap.String("reason", ev.Reason))
	}

	saved, err := t.store.SaveModel(ctx, state.ModelArtifact{
		UserID:     userID,
		EmbedderID: t.embedder.ID(),
		Weights:    model.Weights(),
		PairCount:  len(diffs),
		Accuracy:   ev.Accuracy,
		TrainedAt:  time.Now().UTC(),
	})
	if err != nil {
		return t.fail(userID, fmt.Errorf("save model: %w", err))
	}

	t.logger.Info("reward model trained",
		zap.String("user_id", userID),
		zap.Int("pairs_used", len(diffs)),
		zap.Int("pairs_skipped", skipped),
		zap.Float64("accuracy", ev.Accuracy),
		zap.Int("version", saved.Version),
	)
	return TrainingResult{
		Status:       StatusTrained,
		PairsUsed:    len(diffs),
		PairsSkipped: skipped,
		Accuracy:     ev.Accuracy,
		ModelVersion: saved.Version,
		EmbedderID:   saved.EmbedderID,
	}
}

func (t *Trainer) fail(userID string, err error) TrainingResult {
	t.logger.Error("reward training failed", zap.String("user_id", userID), zap.Error(err))
	return TrainingResult{Status: StatusError, Reason: err.Error()}
}

// #endregion trainer
