package state

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// ErrCorrupt marks a persisted record that failed to parse or validate.
var ErrCorrupt = errors.New("corrupt persisted state")

// #region profile
// Profile is a user's current learned trait vector plus feedback metadata.
type Profile struct {
	UserID           string       `json:"user_id"`
	Traits           trait.Vector `json:"traits"`
	FeedbackCount    int          `json:"feedback_count"`
	LastLearningRate float64      `json:"last_learning_rate"`
	LastUpdated      *time.Time   `json:"last_updated,omitempty"`
}

// DefaultProfile returns the starting profile: every trait at the midpoint, no feedback.
func DefaultProfile(userID string) Profile {
	return Profile{
		UserID: userID,
		Traits: trait.Default(),
	}
}

// Validate checks the invariants a persisted profile must satisfy.
func (p Profile) Validate() error {
	if p.FeedbackCount < 0 {
		return fmt.Errorf("%w: negative feedback count %d", ErrCorrupt, p.FeedbackCount)
	}
	for _, t := range trait.All {
		v := p.Traits.Get(t)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: trait %s = %v", ErrCorrupt, t, v)
		}
	}
	return nil
}

// #endregion profile

// #region outcome
// Outcome is the user's binary verdict on a response.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
)

// ParseOutcome accepts "positive"/"negative" and the UI spellings "helped"/"did_not_help".
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "positive", "helped", "up", "1":
		return OutcomePositive, nil
	case "negative", "did_not_help", "down", "0":
		return OutcomeNegative, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// #endregion outcome

// #region feedback-event
// FeedbackEvent is one immutable entry in a user's append-only feedback log.
// Seq is the 1-based position within that user's log.
type FeedbackEvent struct {
	Seq         int
	ID          string
	UserID      string
	SessionID   string
	Prompt      string
	Response    string
	ProfileUsed trait.Vector
	Outcome     Outcome
	Timestamp   time.Time
}

// #endregion feedback-event

// #region comparison-pair
// Provenance records which kind of feedback a comparison pair was derived from.
type Provenance string

const (
	DerivedPositive Provenance = "derived_positive"
	DerivedNegative Provenance = "derived_negative"
)

// ComparisonPair is a (chosen, rejected) training example derived from exactly one feedback event.
type ComparisonPair struct {
	ID              string
	UserID          string
	EventSeq        int
	Prompt          string
	Chosen          string
	Rejected        string
	ChosenProfile   trait.Vector
	RejectedProfile trait.Vector
	Provenance      Provenance
	Placeholder     bool // contrast text came from the placeholder, not a backend
	CreatedAt       time.Time
}

// #endregion comparison-pair

// #region watermark
// Watermark counts how many feedback events have been turned into comparison pairs.
type Watermark struct {
	ProcessedCount int       `json:"processed_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// #endregion watermark

// #region model-artifact
// ModelArtifact is a persisted reward model. It is written and replaced as a unit.
type ModelArtifact struct {
	UserID     string
	Version    int
	EmbedderID string
	Weights    []float64
	PairCount  int
	Accuracy   float64
	TrainedAt  time.Time
}

// #endregion model-artifact

// #region counts
// FeedbackCounts summarizes a user's feedback log.
type FeedbackCounts struct {
	Total    int
	Positive int
	Negative int
}

// PairCounts summarizes a user's comparison dataset.
type PairCounts struct {
	Total       int
	Placeholder int
}

// #endregion counts
