// Package dataset turns feedback events into comparison pairs.
package dataset

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/contrast"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

// PairCommitter persists pairs together with the watermark that covers them.
type PairCommitter interface {
	CommitPairs(ctx context.Context, userID string, pairs []state.ComparisonPair, processed int) (int, error)
}

// Builder derives one comparison pair per feedback event.
type Builder struct {
	synth  *contrast.Synthesizer
	store  PairCommitter
	logger *zap.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// NewBuilder creates a builder that synthesizes contrasts with synth and
// commits materialized pairs to store.
func NewBuilder(synth *contrast.Synthesizer, store PairCommitter, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		synth:   synth,
		store:   store,
		logger:  logger.Named("dataset"),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (b *Builder) newID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String()
}

// #region build
// BuildPair derives the pair for a single event. The contrast always uses the
// opposite profile. Positive feedback prefers the real response; negative
// feedback prefers the contrast.
func (b *Builder) BuildPair(ctx context.Context, ev state.FeedbackEvent) (state.ComparisonPair, error) {
	c, err := b.synth.Synthesize(ctx, contrast.Request{
		Prompt:  ev.Prompt,
		Profile: ev.ProfileUsed,
		Mode:    contrast.ModeOpposite,
	})
	if err != nil {
		return state.ComparisonPair{}, fmt.Errorf("synthesize contrast for event %d: %w", ev.Seq, err)
	}

	p := state.ComparisonPair{
		ID:          b.newID(),
		UserID:      ev.UserID,
		EventSeq:    ev.Seq,
		Prompt:      ev.Prompt,
		Placeholder: c.Placeholder,
		CreatedAt:   time.Now().UTC(),
	}
	switch ev.Outcome {
	case state.OutcomePositive:
		p.Chosen, p.ChosenProfile = ev.Response, ev.ProfileUsed
		p.Rejected, p.RejectedProfile = c.Text, c.Profile
		p.Provenance = state.DerivedPositive
	case state.OutcomeNegative:
		p.Chosen, p.ChosenProfile = c.Text, c.Profile
		p.Rejected, p.RejectedProfile = ev.Response, ev.ProfileUsed
		p.Provenance = state.DerivedNegative
	default:
		return state.ComparisonPair{}, fmt.Errorf("event %d: unknown outcome %q", ev.Seq, ev.Outcome)
	}
	return p, nil
}

// BuildPairs derives pairs for events in order. It does not persist anything.
func (b *Builder) BuildPairs(ctx context.Context, events []state.FeedbackEvent) ([]state.ComparisonPair, error) {
	pairs := make([]state.ComparisonPair, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := b.BuildPair(ctx, ev)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// #endregion build

// #region materialize
// Materialize builds pairs for events and commits them with the new watermark
// in one step. Nothing is written when building fails. Returns the number of
// pairs newly stored.
func (b *Builder) Materialize(ctx context.Context, userID string, events []state.FeedbackEvent, watermark int) (int, error) {
	pairs, err := b.BuildPairs(ctx, events)
	if err != nil {
		return 0, err
	}
	placeholders := 0
	for _, p := range pairs {
		if p.Placeholder {
			placeholders++
		}
	}
	inserted, err := b.store.CommitPairs(ctx, userID, pairs, watermark)
	if err != nil {
		return 0, fmt.Errorf("commit pairs: %w", err)
	}
	b.logger.Debug("materialized pairs",
		zap.String("user_id", userID),
		zap.Int("built", len(pairs)),
		zap.Int("inserted", inserted),
		zap.Int("placeholders", placeholders),
		zap.Int("watermark", watermark),
	)
	if skipped := len(pairs) - inserted; skipped > 0 {
		b.logger.Info("skipped pairs already materialized",
			zap.String("user_id", userID), zap.Int("skipped", skipped))
	}
	return inserted, nil
}

// #endregion materialize
