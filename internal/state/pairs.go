package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// #region load-watermark
// LoadWatermark returns how many of the user's feedback events have been
// turned into comparison pairs. Missing, unparsable, or impossible records
// (negative, or beyond the end of the log) read as zero so the caller
// rebuilds from scratch instead of silently skipping evidence.
func (s *Store) LoadWatermark(ctx context.Context, userID string) (Watermark, error) {
	// A plain read; it must not take the write lock that BEGIN IMMEDIATE would.
	wm, err := loadWatermark(ctx, s.db, userID)
	if err == nil {
		return wm, nil
	}
	if errors.Is(err, ErrCorrupt) {
		s.logger.Warn("watermark reset to zero", zap.String("user_id", userID), zap.Error(err))
		return Watermark{}, nil
	}
	return Watermark{}, err
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadWatermark reads the record and the log length in one statement so both
// come from the same snapshot.
func loadWatermark(ctx context.Context, q rowQuerier, userID string) (Watermark, error) {
	var (
		raw   sql.NullString
		total int
	)
	err := q.QueryRowContext(ctx, `
		SELECT
			(SELECT record_json FROM watermarks WHERE user_id = ?),
			(SELECT COUNT(*) FROM feedback_log WHERE user_id = ?)`,
		userID, userID,
	).Scan(&raw, &total)
	if err != nil {
		return Watermark{}, fmt.Errorf("load watermark %s: %w", userID, err)
	}
	if !raw.Valid {
		return Watermark{}, nil
	}

	var wm Watermark
	if err := json.Unmarshal([]byte(raw.String), &wm); err != nil {
		return Watermark{}, fmt.Errorf("%w: watermark: %v", ErrCorrupt, err)
	}
	if wm.ProcessedCount < 0 {
		return Watermark{}, fmt.Errorf("%w: negative watermark %d", ErrCorrupt, wm.ProcessedCount)
	}
	if wm.ProcessedCount > total {
		return Watermark{}, fmt.Errorf("%w: watermark %d beyond %d events", ErrCorrupt, wm.ProcessedCount, total)
	}
	return wm, nil
}

// #endregion load-watermark

// #region commit-pairs
// CommitPairs appends pairs and advances the user's watermark to processed in
// one transaction. A pair for an event that already has one is skipped, so
// replaying an overlapping slice never duplicates training data. Returns the
// number of pairs actually inserted.
func (s *Store) CommitPairs(ctx context.Context, userID string, pairs []ComparisonPair, processed int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := loadWatermark(ctx, tx, userID)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return 0, err
	}
	if err == nil && processed < current.ProcessedCount {
		return 0, fmt.Errorf("watermark would decrease from %d to %d", current.ProcessedCount, processed)
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_log WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	if processed > total {
		return 0, fmt.Errorf("watermark %d beyond %d events", processed, total)
	}

	inserted := 0
	for _, p := range pairs {
		if p.UserID != userID {
			return 0, fmt.Errorf("pair %s belongs to %q, not %q", p.ID, p.UserID, userID)
		}
		if p.ID == "" {
			return 0, fmt.Errorf("pair for event %d has no id", p.EventSeq)
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		placeholder := 0
		if p.Placeholder {
			placeholder = 1
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO comparison_pairs
			 (id, user_id, event_seq, prompt, chosen, rejected, chosen_profile, rejected_profile, provenance, placeholder, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, event_seq) DO NOTHING`,
			p.ID, p.UserID, p.EventSeq, nullIfEmpty(p.Prompt), p.Chosen, p.Rejected,
			encodeTraits(p.ChosenProfile), encodeTraits(p.RejectedProfile),
			string(p.Provenance), placeholder, p.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("insert pair for event %d: %w", p.EventSeq, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	raw, err := json.Marshal(Watermark{ProcessedCount: processed, LastUpdated: time.Now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("marshal watermark: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO watermarks (user_id, record_json) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET record_json = excluded.record_json`,
		userID, string(raw),
	)
	if err != nil {
		return 0, fmt.Errorf("advance watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// #endregion commit-pairs

// #region list-pairs
// ListPairs returns every comparison pair for the user in event order.
func (s *Store) ListPairs(ctx context.Context, userID string) ([]ComparisonPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_seq, prompt, chosen, rejected, chosen_profile, rejected_profile, provenance, placeholder, created_at
		 FROM comparison_pairs WHERE user_id = ? ORDER BY event_seq ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []ComparisonPair
	for rows.Next() {
		p := ComparisonPair{UserID: userID}
		var prompt sql.NullString
		var chosenBlob, rejectedBlob []byte
		var provenance, createdStr string
		var placeholder int
		if err := rows.Scan(&p.ID, &p.EventSeq, &prompt, &p.Chosen, &p.Rejected,
			&chosenBlob, &rejectedBlob, &provenance, &placeholder, &createdStr); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if prompt.Valid {
			p.Prompt = prompt.String
		}
		if p.ChosenProfile, err = decodeTraits(chosenBlob); err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.ID, err)
		}
		if p.RejectedProfile, err = decodeTraits(rejectedBlob); err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.ID, err)
		}
		p.Provenance = Provenance(provenance)
		p.Placeholder = placeholder == 1
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// CountPairs returns the size of the user's comparison dataset.
func (s *Store) CountPairs(ctx context.Context, userID string) (PairCounts, error) {
	var c PairCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(placeholder), 0) FROM comparison_pairs WHERE user_id = ?`, userID,
	).Scan(&c.Total, &c.Placeholder)
	if err != nil {
		return PairCounts{}, fmt.Errorf("count pairs: %w", err)
	}
	return c, nil
}

// #endregion list-pairs
