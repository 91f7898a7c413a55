package reward

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/embedding"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

// fallbackWords is the word count at which the heuristic score saturates.
const fallbackWords = 200

// ModelLoader reads a user's persisted reward model.
type ModelLoader interface {
	LoadModel(ctx context.Context, userID string) (state.ModelArtifact, bool, error)
}

// Score sources.
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

// Scored is a score with the path that produced it.
type Scored struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// #region scorer
// Scorer rates candidate responses with the user's reward model, falling
// back to a length heuristic when no usable model exists.
type Scorer struct {
	models   ModelLoader
	embedder embedding.Embedder
	logger   *zap.Logger
}

// NewScorer creates a scorer.
func NewScorer(models ModelLoader, embedder embedding.Embedder, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{models: models, embedder: embedder, logger: logger.Named("scorer")}
}

// Score returns a value in [0, 1]. It never fails.
func (s *Scorer) Score(ctx context.Context, userID, text string) float64 {
	return s.Evaluate(ctx, userID, text).Score
}

// Evaluate scores text and reports whether the model or the heuristic was used.
func (s *Scorer) Evaluate(ctx context.Context, userID, text string) Scored {
	m, ok, err := s.models.LoadModel(ctx, userID)
	if err != nil {
		s.logger.Warn("load model failed, using heuristic", zap.String("user_id", userID), zap.Error(err))
		return heuristic(text)
	}
	if !ok {
		return heuristic(text)
	}
	if m.EmbedderID != s.embedder.ID() {
		s.logger.Warn("model embedder mismatch, using heuristic",
			zap.String("user_id", userID),
			zap.String("model_embedder", m.EmbedderID),
			zap.String("embedder", s.embedder.ID()),
		)
		return heuristic(text)
	}
	x, err := s.embedder.Embed(ctx, text)
	if err != nil || len(x) != len(m.Weights) {
		s.logger.Warn("embedding unusable, using heuristic", zap.String("user_id", userID), zap.Error(err))
		return heuristic(text)
	}
	model := &LinearModel{W: m.Weights}
	return Scored{Text: text, Score: model.PredictProbability(x), Source: SourceModel}
}

// Rank scores every candidate and orders them best first. Ties keep input order.
func (s *Scorer) Rank(ctx context.Context, userID string, candidates []string) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = s.Evaluate(ctx, userID, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// #endregion scorer

// HeuristicScore is min(1, words/200).
func HeuristicScore(text string) float64 {
	return math.Min(1, float64(len(strings.Fields(text)))/fallbackWords)
}

func heuristic(text string) Scored {
	return Scored{Text: text, Score: HeuristicScore(text), Source: SourceHeuristic}
}
