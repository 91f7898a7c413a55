package orchestrator

// #region imports
import (
	"context"

	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

// #endregion

// #region state

// State is the orchestrator's position in one invocation.
type State string

const (
	StateIdle       State = "idle"
	StateBatchReady State = "batch_ready"
	StateTraining   State = "training"
	StateDone       State = "done"
)

// #endregion

// #region status

// Status summarizes what an invocation did.
type Status string

const (
	StatusNoNewData        Status = "no_new_data"
	StatusInsufficientData Status = "insufficient_data"
	StatusWaitingForBatch  Status = "waiting_for_batch"
	StatusCompleted        Status = "completed"
	StatusTrainingFailed   Status = "training_failed"
	StatusError            Status = "error"
)

// #endregion

// #region trigger

// Trigger records what started an invocation.
type Trigger string

const (
	TriggerFeedback Trigger = "feedback"
	TriggerManual   Trigger = "manual"
	TriggerSweep    Trigger = "sweep"
)

// #endregion

// #region config

// Config holds the retrain policy.
type Config struct {
	MinFeedback int // no training below this many events (default 3)
	BatchSize   int // automatic training when the total is a multiple of this (default 3)
}

// DefaultConfig returns the default retrain policy.
func DefaultConfig() Config {
	return Config{
		MinFeedback: 3,
		BatchSize:   3,
	}
}

// #endregion

// #region result

// Result is the structured outcome of one Notify or RetrainNow call.
type Result struct {
	UserID                  string                 `json:"user_id"`
	Status                  Status                 `json:"status"`
	State                   State                  `json:"state"`
	Trigger                 Trigger                `json:"trigger"`
	NewFeedbackProcessed    int                    `json:"new_feedback_processed"`
	TotalFeedback           int                    `json:"total_feedback"`
	NewComparisonsGenerated int                    `json:"new_comparisons_generated"`
	TrainingResult          *reward.TrainingResult `json:"training_result,omitempty"`
	Detail                  string                 `json:"detail,omitempty"`
}

// #endregion

// #region dependencies

// Store is the persistence the orchestrator reads.
type Store interface {
	LoadWatermark(ctx context.Context, userID string) (state.Watermark, error)
	ListFeedback(ctx context.Context, userID string, afterSeq int) ([]state.FeedbackEvent, error)
}

// Materializer turns new events into pairs and advances the watermark atomically.
type Materializer interface {
	Materialize(ctx context.Context, userID string, events []state.FeedbackEvent, watermark int) (int, error)
}

// Trainer refits a user's reward model.
type Trainer interface {
	Retrain(ctx context.Context, userID string) reward.TrainingResult
}

// #endregion
