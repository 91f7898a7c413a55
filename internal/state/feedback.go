package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region record-feedback
// RecordFeedback saves the updated profile and appends the event that
// produced it in one transaction, so a crash never leaves one without the other.
func (s *Store) RecordFeedback(ctx context.Context, p Profile, ev FeedbackEvent) (FeedbackEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FeedbackEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveProfile(ctx, tx, p); err != nil {
		return FeedbackEvent{}, err
	}
	ev, err = appendFeedback(ctx, tx, ev)
	if err != nil {
		return FeedbackEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return FeedbackEvent{}, fmt.Errorf("commit: %w", err)
	}
	return ev, nil
}

// #endregion record-feedback

// #region append-feedback
// AppendFeedback appends a single event to the user's log and returns it with Seq set.
func (s *Store) AppendFeedback(ctx context.Context, ev FeedbackEvent) (FeedbackEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FeedbackEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ev, err = appendFeedback(ctx, tx, ev)
	if err != nil {
		return FeedbackEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return FeedbackEvent{}, fmt.Errorf("commit: %w", err)
	}
	return ev, nil
}

func appendFeedback(ctx context.Context, tx *sql.Tx, ev FeedbackEvent) (FeedbackEvent, error) {
	if ev.UserID == "" {
		return FeedbackEvent{}, fmt.Errorf("append feedback: empty user id")
	}
	if ev.Outcome != OutcomePositive && ev.Outcome != OutcomeNegative {
		return FeedbackEvent{}, fmt.Errorf("append feedback: invalid outcome %q", ev.Outcome)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var maxSeq int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM feedback_log WHERE user_id = ?`, ev.UserID,
	).Scan(&maxSeq)
	if err != nil {
		return FeedbackEvent{}, fmt.Errorf("next seq: %w", err)
	}
	ev.Seq = maxSeq + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback_log (user_id, seq, event_id, session_id, prompt, response, profile_used, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.Seq, ev.ID, nullIfEmpty(ev.SessionID), ev.Prompt, ev.Response,
		encodeTraits(ev.ProfileUsed), string(ev.Outcome), ev.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return FeedbackEvent{}, fmt.Errorf("insert feedback: %w", err)
	}
	return ev, nil
}

// #endregion append-feedback

// #region list-feedback
// ListFeedback returns the user's events with Seq > afterSeq, oldest first.
func (s *Store) ListFeedback(ctx context.Context, userID string, afterSeq int) ([]FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, session_id, prompt, response, profile_used, outcome, created_at
		 FROM feedback_log WHERE user_id = ? AND seq > ? ORDER BY seq ASC`,
		userID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var events []FeedbackEvent
	for rows.Next() {
		ev := FeedbackEvent{UserID: userID}
		var sessionID sql.NullString
		var blob []byte
		var outcome, createdStr string
		if err := rows.Scan(&ev.Seq, &ev.ID, &sessionID, &ev.Prompt, &ev.Response, &blob, &outcome, &createdStr); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if sessionID.Valid {
			ev.SessionID = sessionID.String
		}
		ev.ProfileUsed, err = decodeTraits(blob)
		if err != nil {
			return nil, fmt.Errorf("feedback seq %d: %w", ev.Seq, err)
		}
		ev.Outcome = Outcome(outcome)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// #endregion list-feedback

// #region count-feedback
// CountFeedback returns per-outcome totals for the user's feedback log.
func (s *Store) CountFeedback(ctx context.Context, userID string) (FeedbackCounts, error) {
	var c FeedbackCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = 'positive' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = 'negative' THEN 1 ELSE 0 END), 0)
		 FROM feedback_log WHERE user_id = ?`, userID,
	).Scan(&c.Total, &c.Positive, &c.Negative)
	if err != nil {
		return FeedbackCounts{}, fmt.Errorf("count feedback: %w", err)
	}
	return c, nil
}

// #endregion count-feedback

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
