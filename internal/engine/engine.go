// Package engine is the session-facing API of the preference engine. It
// applies feedback to the user's profile, records the event and hands the
// log to the retrain orchestrator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

// ErrClosed is returned by SubmitFeedback after Close.
var ErrClosed = errors.New("engine closed")

// #region types

// Feedback is one verdict on a generated response.
type Feedback struct {
	SessionID   string
	Prompt      string
	Response    string
	ProfileUsed trait.Vector
	Outcome     state.Outcome
}

// Receipt reports what SubmitFeedback did.
type Receipt struct {
	Event    state.FeedbackEvent  `json:"event"`
	Profile  state.Profile        `json:"profile"`
	Decision update.Decision      `json:"decision"`
	Metrics  update.Metrics       `json:"metrics"`
	Retrain  *orchestrator.Result `json:"retrain,omitempty"` // set only in synchronous mode
}

// TrainingStats summarizes a user's feedback and training state.
type TrainingStats struct {
	TotalFeedback          int        `json:"total_feedback"`
	PositiveFeedback       int        `json:"positive_feedback"`
	NegativeFeedback       int        `json:"negative_feedback"`
	ProcessedFeedback      int        `json:"processed_feedback"`
	TotalComparisons       int        `json:"total_comparisons"`
	PlaceholderComparisons int        `json:"placeholder_comparisons"`
	HasModel               bool       `json:"has_model"`
	ModelVersion           int        `json:"model_version,omitempty"`
	ModelAccuracy          float64    `json:"model_accuracy,omitempty"`
	ModelPairs             int        `json:"model_pairs,omitempty"`
	EmbedderID             string     `json:"embedder_id,omitempty"`
	TrainedAt              *time.Time `json:"trained_at,omitempty"`
	LearningRate           float64    `json:"learning_rate"`
	Phase                  string     `json:"phase"`
}

// Retrainer is the part of the orchestrator the engine drives.
type Retrainer interface {
	Notify(ctx context.Context, userID string) orchestrator.Result
	RetrainNow(ctx context.Context, userID string) orchestrator.Result
	Exclusive(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// #endregion types

// #region engine

// Engine serves every user from one store. Profile updates for a user are
// serialized; different users proceed in parallel.
type Engine struct {
	store       *state.Store
	retrain     Retrainer
	scorer      *reward.Scorer
	sched       update.Schedule
	syncRetrain bool
	logger      *zap.Logger

	users *orchestrator.KeyedMutex

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithSchedule sets the learning-rate schedule.
func WithSchedule(s update.Schedule) Option { return func(e *Engine) { e.sched = s } }

// WithSyncRetrain runs the orchestrator inside SubmitFeedback instead of in the background.
func WithSyncRetrain(on bool) Option { return func(e *Engine) { e.syncRetrain = on } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine.
func New(store *state.Store, retrain Retrainer, scorer *reward.Scorer, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		retrain: retrain,
		scorer:  scorer,
		sched:   update.DefaultSchedule(),
		logger:  zap.NewNop(),
		users:   orchestrator.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	return e
}

// Schedule returns the active learning-rate schedule.
func (e *Engine) Schedule() update.Schedule { return e.sched }

// #endregion engine

// #region submit

// SubmitFeedback updates the user's profile from one verdict and appends the
// event to the log in a single transaction, then notifies the orchestrator.
// Only a failure to persist the profile or event is returned as an error;
// retraining problems are reported through the orchestrator's result.
func (e *Engine) SubmitFeedback(ctx context.Context, userID string, fb Feedback) (Receipt, error) {
	if userID == "" {
		return Receipt{}, fmt.Errorf("submit feedback: empty user id")
	}
	if fb.Outcome != state.OutcomePositive && fb.Outcome != state.OutcomeNegative {
		return Receipt{}, fmt.Errorf("submit feedback: unknown outcome %q", fb.Outcome)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Receipt{}, ErrClosed
	}
	e.wg.Add(1) // held until any background retrain finishes
	e.mu.Unlock()

	receipt, err := e.apply(ctx, userID, fb)
	if err != nil {
		e.wg.Done()
		return Receipt{}, err
	}

	if e.syncRetrain {
		defer e.wg.Done()
		res := e.retrain.Notify(ctx, userID)
		receipt.Retrain = &res
		return receipt, nil
	}

	go func() {
		defer e.wg.Done()
		e.retrain.Notify(context.WithoutCancel(ctx), userID)
	}()
	return receipt, nil
}

func (e *Engine) apply(ctx context.Context, userID string, fb Feedback) (Receipt, error) {
	unlock, err := e.users.Lock(ctx, userID)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit feedback: %w", err)
	}
	defer unlock()

	current, err := e.store.LoadProfile(ctx, userID)
	if err != nil {
		return Receipt{}, fmt.Errorf("load profile: %w", err)
	}

	used := fb.ProfileUsed.Clamped()
	r := update.Apply(current, fb.Outcome, used, e.sched)

	ev, err := e.store.RecordFeedback(ctx, r.Profile, state.FeedbackEvent{
		UserID:      userID,
		SessionID:   fb.SessionID,
		Prompt:      fb.Prompt,
		Response:    fb.Response,
		ProfileUsed: used,
		Outcome:     fb.Outcome,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("record feedback: %w", err)
	}

	e.logger.Info("feedback applied",
		zap.String("user_id", userID),
		zap.Int("seq", ev.Seq),
		zap.String("outcome", string(fb.Outcome)),
		zap.String("decision", r.Decision.Action),
		zap.Float64("learning_rate", r.Metrics.LearningRate),
		zap.Float64("delta_norm", r.Metrics.DeltaNorm),
	)
	return Receipt{Event: ev, Profile: r.Profile, Decision: r.Decision, Metrics: r.Metrics}, nil
}

// #endregion submit

// #region queries

// CurrentProfile returns the user's profile, the default when none is stored.
func (e *Engine) CurrentProfile(ctx context.Context, userID string) (state.Profile, error) {
	return e.store.LoadProfile(ctx, userID)
}

// ResetProfile restores the default profile and clears the user's feedback
// log, comparison pairs, watermark and reward model. It waits for any
// in-flight retrain for the user to finish first.
func (e *Engine) ResetProfile(ctx context.Context, userID string) (state.Profile, error) {
	unlock, err := e.users.Lock(ctx, userID)
	if err != nil {
		return state.Profile{}, fmt.Errorf("reset: %w", err)
	}
	defer unlock()

	var p state.Profile
	err = e.retrain.Exclusive(ctx, userID, func(ctx context.Context) error {
		var err error
		p, err = e.store.Reset(ctx, userID)
		return err
	})
	if err != nil {
		return state.Profile{}, fmt.Errorf("reset: %w", err)
	}
	e.logger.Info("profile reset", zap.String("user_id", userID))
	return p, nil
}

// TrainingStats reports feedback, dataset and model counts for the user.
func (e *Engine) TrainingStats(ctx context.Context, userID string) (TrainingStats, error) {
	fc, err := e.store.CountFeedback(ctx, userID)
	if err != nil {
		return TrainingStats{}, err
	}
	pc, err := e.store.CountPairs(ctx, userID)
	if err != nil {
		return TrainingStats{}, err
	}
	wm, err := e.store.LoadWatermark(ctx, userID)
	if err != nil {
		return TrainingStats{}, err
	}
	m, ok, err := e.store.LoadModel(ctx, userID)
	if err != nil {
		return TrainingStats{}, err
	}
	p, err := e.store.LoadProfile(ctx, userID)
	if err != nil {
		return TrainingStats{}, err
	}

	st := TrainingStats{
		TotalFeedback:          fc.Total,
		PositiveFeedback:       fc.Positive,
		NegativeFeedback:       fc.Negative,
		ProcessedFeedback:      wm.ProcessedCount,
		TotalComparisons:       pc.Total,
		PlaceholderComparisons: pc.Placeholder,
		HasModel:               ok,
		LearningRate:           e.sched.Rate(p.FeedbackCount),
		Phase:                  update.Phase(p.FeedbackCount),
	}
	if ok {
		trainedAt := m.TrainedAt
		st.ModelVersion = m.Version
		st.ModelAccuracy = m.Accuracy
		st.ModelPairs = m.PairCount
		st.EmbedderID = m.EmbedderID
		st.TrainedAt = &trainedAt
	}
	return st, nil
}

// Score rates text for the user in [0, 1].
func (e *Engine) Score(ctx context.Context, userID, text string) float64 {
	return e.scorer.Score(ctx, userID, text)
}

// Evaluate scores text and reports which path produced the score.
func (e *Engine) Evaluate(ctx context.Context, userID, text string) reward.Scored {
	return e.scorer.Evaluate(ctx, userID, text)
}

// Rank orders candidate responses best first.
func (e *Engine) Rank(ctx context.Context, userID string, candidates []string) []reward.Scored {
	return e.scorer.Rank(ctx, userID, candidates)
}

// RetrainNow forces materialization and training for the user.
func (e *Engine) RetrainNow(ctx context.Context, userID string) orchestrator.Result {
	return e.retrain.RetrainNow(ctx, userID)
}

// #endregion queries

// #region sessions

// Session binds a user and a session ID so callers do not repeat them.
type Session struct {
	ID     string
	UserID string
	engine *Engine
}

// Session opens a new session for userID with a fresh ID.
func (e *Engine) Session(userID string) *Session {
	return &Session{ID: uuid.NewString(), UserID: userID, engine: e}
}

// SubmitFeedback records feedback tagged with this session.
func (s *Session) SubmitFeedback(ctx context.Context, prompt, response string, used trait.Vector, outcome state.Outcome) (Receipt, error) {
	return s.engine.SubmitFeedback(ctx, s.UserID, Feedback{
		SessionID:   s.ID,
		Prompt:      prompt,
		Response:    response,
		ProfileUsed: used,
		Outcome:     outcome,
	})
}

// Profile returns the session user's current profile.
func (s *Session) Profile(ctx context.Context) (state.Profile, error) {
	return s.engine.CurrentProfile(ctx, s.UserID)
}

// Score rates text for the session user.
func (s *Session) Score(ctx context.Context, text string) float64 {
	return s.engine.Score(ctx, s.UserID, text)
}

// #endregion sessions

// #region close

// Close stops accepting feedback and waits for background retrains.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until every background retrain started so far has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// #endregion close
