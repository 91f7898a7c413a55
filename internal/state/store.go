package state

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	record_json  TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_log (
	user_id      TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	event_id     TEXT NOT NULL,
	session_id   TEXT,
	prompt       TEXT NOT NULL,
	response     TEXT NOT NULL,
	profile_used BLOB NOT NULL,
	outcome      TEXT NOT NULL CHECK (outcome IN ('positive', 'negative')),
	created_at   TEXT NOT NULL,
	PRIMARY KEY (user_id, seq)
);

CREATE TABLE IF NOT EXISTS comparison_pairs (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	event_seq        INTEGER NOT NULL,
	prompt           TEXT,
	chosen           TEXT NOT NULL,
	rejected         TEXT NOT NULL,
	chosen_profile   BLOB NOT NULL,
	rejected_profile BLOB NOT NULL,
	provenance       TEXT NOT NULL,
	placeholder      INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	UNIQUE (user_id, event_seq)
);

CREATE TABLE IF NOT EXISTS watermarks (
	user_id      TEXT PRIMARY KEY,
	record_json  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_models (
	user_id      TEXT PRIMARY KEY,
	version      INTEGER NOT NULL,
	embedder_id  TEXT NOT NULL,
	weights      BLOB NOT NULL,
	pair_count   INTEGER NOT NULL,
	accuracy     REAL NOT NULL DEFAULT 0,
	trained_at   TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store persists profiles, feedback logs, comparison pairs, watermarks and
// reward models for every user in one SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
// Transactions take the write lock up front so concurrent writers queue on
// busy_timeout instead of failing on lock upgrade.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, logger: logger.Named("state")}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_txlock=immediate"
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region profile-record
type profileRecord struct {
	Traits           map[string]float64 `json:"traits"`
	FeedbackCount    int                `json:"feedback_count"`
	LastLearningRate float64            `json:"last_learning_rate"`
	LastUpdated      *time.Time         `json:"last_updated,omitempty"`
}

func encodeProfile(p Profile) (string, error) {
	b, err := json.Marshal(profileRecord{
		Traits:           p.Traits.Map(),
		FeedbackCount:    p.FeedbackCount,
		LastLearningRate: p.LastLearningRate,
		LastUpdated:      p.LastUpdated,
	})
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return string(b), nil
}

func decodeProfile(userID, raw string) (Profile, error) {
	var rec profileRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rec.Traits) != trait.Count {
		return Profile{}, fmt.Errorf("%w: %d traits present", ErrCorrupt, len(rec.Traits))
	}
	vec, err := trait.FromMap(rec.Traits)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	p := Profile{
		UserID:           userID,
		Traits:           vec,
		FeedbackCount:    rec.FeedbackCount,
		LastLearningRate: rec.LastLearningRate,
		LastUpdated:      rec.LastUpdated,
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// #endregion profile-record

// #region load-profile
// LoadProfile returns the user's persisted profile, or the default profile
// when none exists. A corrupt record is treated as absent.
func (s *Store) LoadProfile(ctx context.Context, userID string) (Profile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM profiles WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultProfile(userID), nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", userID, err)
	}
	p, err := decodeProfile(userID, raw)
	if err != nil {
		s.logger.Warn("discarding corrupt profile", zap.String("user_id", userID), zap.Error(err))
		return DefaultProfile(userID), nil
	}
	return p, nil
}

// #endregion load-profile

// #region save-profile
// SaveProfile overwrites the user's profile in a single statement.
func (s *Store) SaveProfile(ctx context.Context, p Profile) error {
	return saveProfile(ctx, s.db, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveProfile(ctx context.Context, ex execer, p Profile) error {
	if p.UserID == "" {
		return errors.New("save profile: empty user id")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	raw, err := encodeProfile(p)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO profiles (user_id, record_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET record_json = excluded.record_json, updated_at = excluded.updated_at`,
		p.UserID, raw, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.UserID, err)
	}
	return nil
}

// #endregion save-profile

// #region reset
// Reset persists the default profile and clears every record derived from
// the user's feedback: log, comparison pairs, watermark and reward model.
func (s *Store) Reset(ctx context.Context, userID string) (Profile, error) {
	p := DefaultProfile(userID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"feedback_log", "comparison_pairs", "watermarks", "reward_models"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return Profile{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := saveProfile(ctx, tx, p); err != nil {
		return Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// #endregion reset

// #region list-users
// ListUsers returns every user with a persisted profile.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// #endregion list-users

// #region vector-encoding
func encodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

func encodeTraits(v trait.Vector) []byte {
	return encodeFloats(v[:])
}

func decodeTraits(b []byte) (trait.Vector, error) {
	var v trait.Vector
	if len(b) != trait.Count*8 {
		return v, fmt.Errorf("%w: trait blob of %d bytes", ErrCorrupt, len(b))
	}
	copy(v[:], decodeFloats(b))
	return v, nil
}

// #endregion vector-encoding
