package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const retrainLogSchema = `
CREATE TABLE IF NOT EXISTS retrain_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id         TEXT NOT NULL,
    trigger_type    TEXT NOT NULL,
    status          TEXT NOT NULL,
    state           TEXT NOT NULL,
    new_feedback    INTEGER NOT NULL DEFAULT 0,
    total_feedback  INTEGER NOT NULL DEFAULT 0,
    new_pairs       INTEGER NOT NULL DEFAULT 0,
    training_status TEXT,
    detail_json     TEXT,
    reason          TEXT,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retrain_log_user ON retrain_log(user_id, id);
`

// EnsureSchema creates the retrain_log table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(retrainLogSchema); err != nil {
		return fmt.Errorf("create retrain_log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// LogDecision writes an orchestration decision to the retrain_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry RetrainEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO retrain_log (user_id, trigger_type, status, state, new_feedback, total_feedback,
		 new_pairs, training_status, detail_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.Trigger,
		entry.Status,
		entry.State,
		entry.NewFeedback,
		entry.TotalFeedback,
		entry.NewPairs,
		nullIfEmpty(entry.TrainingStatus),
		nullIfEmpty(entry.DetailJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list-decisions
// ListDecisions returns the user's most recent decisions, newest first.
// limit <= 0 returns all of them.
func ListDecisions(ctx context.Context, db *sql.DB, userID string, limit int) ([]RetrainEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, trigger_type, status, state, new_feedback, total_feedback, new_pairs,
		        training_status, detail_json, reason, created_at
		 FROM retrain_log WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []RetrainEntry
	for rows.Next() {
		var e RetrainEntry
		var trainingStatus, detail, reason sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Trigger, &e.Status, &e.State, &e.NewFeedback,
			&e.TotalFeedback, &e.NewPairs, &trainingStatus, &detail, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.TrainingStatus = trainingStatus.String
		e.DetailJSON = detail.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
