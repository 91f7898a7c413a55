package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveModel replaces the user's reward model. The version is one past the
// previous artifact's, assigned in the same statement that swaps it in.
func (s *Store) SaveModel(ctx context.Context, m ModelArtifact) (ModelArtifact, error) {
	if m.UserID == "" {
		return ModelArtifact{}, errors.New("save model: empty user id")
	}
	if len(m.Weights) == 0 {
		return ModelArtifact{}, errors.New("save model: no weights")
	}
	if m.TrainedAt.IsZero() {
		m.TrainedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reward_models (user_id, version, embedder_id, weights, pair_count, accuracy, trained_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   version = reward_models.version + 1,
		   embedder_id = excluded.embedder_id,
		   weights = excluded.weights,
		   pair_count = excluded.pair_count,
		   accuracy = excluded.accuracy,
		   trained_at = excluded.trained_at
		 RETURNING version`,
		m.UserID, m.EmbedderID, encodeFloats(m.Weights), m.PairCount, m.Accuracy,
		m.TrainedAt.Format(time.RFC3339Nano),
	).Scan(&m.Version)
	if err != nil {
		return ModelArtifact{}, fmt.Errorf("save model %s: %w", m.UserID, err)
	}
	return m, nil
}

// LoadModel returns the user's reward model. ok is false when none has been trained.
func (s *Store) LoadModel(ctx context.Context, userID string) (m ModelArtifact, ok bool, err error) {
	var blob []byte
	var trainedStr string
	m.UserID = userID
	err = s.db.QueryRowContext(ctx,
		`SELECT version, embedder_id, weights, pair_count, accuracy, trained_at
		 FROM reward_models WHERE user_id = ?`, userID,
	).Scan(&m.Version, &m.EmbedderID, &blob, &m.PairCount, &m.Accuracy, &trainedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelArtifact{}, false, nil
	}
	if err != nil {
		return ModelArtifact{}, false, fmt.Errorf("load model %s: %w", userID, err)
	}
	m.Weights = decodeFloats(blob)
	m.TrainedAt, _ = time.Parse(time.RFC3339Nano, trainedStr)
	return m, true, nil
}
