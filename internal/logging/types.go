package logging

import "time"

// #region retrain-entry
// RetrainEntry is a single row in the retrain_log table: one orchestration
// decision for one user.
type RetrainEntry struct {
	ID             int64
	UserID         string
	Trigger        string // "feedback" | "manual" | "sweep"
	Status         string // orchestrator status
	State          string // orchestrator state when the decision was made
	NewFeedback    int
	TotalFeedback  int
	NewPairs       int
	TrainingStatus string // empty when no training ran
	DetailJSON     string
	Reason         string
	CreatedAt      time.Time
}

// #endregion retrain-entry
