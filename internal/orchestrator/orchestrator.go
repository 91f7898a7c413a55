package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/logging"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
)

// #endregion

// #region orchestrator-struct

// Orchestrator decides when a user's feedback log has grown enough to retrain
// and drives pair materialization followed by training, at most once per event.
type Orchestrator struct {
	store     Store
	builder   Materializer
	trainer   Trainer
	config    Config
	locker    Locker
	metrics   *Metrics
	decisions *sql.DB
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the retrain policy.
func WithConfig(c Config) Option { return func(o *Orchestrator) { o.config = c } }

// WithLocker replaces the in-process per-user lock.
func WithLocker(l Locker) Option { return func(o *Orchestrator) { o.locker = l } }

// WithMetrics records Prometheus metrics. Nil disables them.
func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithDecisionLog writes every result to the retrain_log table in db.
func WithDecisionLog(db *sql.DB) Option { return func(o *Orchestrator) { o.decisions = db } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// #endregion

// #region constructor

// New creates an orchestrator.
func New(store Store, builder Materializer, trainer Trainer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		builder: builder,
		trainer: trainer,
		config:  DefaultConfig(),
		locker:  NewKeyedMutex(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.config.MinFeedback < 1 {
		o.config.MinFeedback = 1
	}
	if o.config.BatchSize < 1 {
		o.config.BatchSize = 1
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Config returns the active retrain policy.
func (o *Orchestrator) Config() Config { return o.config }

// #endregion

// #region notify

// Notify inspects the user's log after new feedback and retrains when the
// batch policy fires. Calls for the same user are serialized.
func (o *Orchestrator) Notify(ctx context.Context, userID string) Result {
	return o.run(ctx, userID, TriggerFeedback, false)
}

// RetrainNow materializes any pending events regardless of the batch policy
// and retrains on the full dataset, provided the minimum is met.
func (o *Orchestrator) RetrainNow(ctx context.Context, userID string) Result {
	return o.run(ctx, userID, TriggerManual, true)
}

// Exclusive runs fn while holding the user's retrain lock, so no
// materialization or training for that user overlaps it.
func (o *Orchestrator) Exclusive(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	unlock, err := o.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer unlock()
	return fn(ctx)
}

func (o *Orchestrator) run(ctx context.Context, userID string, trigger Trigger, force bool) Result {
	start := time.Now()
	unlock, err := o.locker.Lock(ctx, userID)
	if err != nil {
		res := Result{UserID: userID, Status: StatusError, State: StateIdle, Trigger: trigger, Detail: fmt.Sprintf("acquire lock: %v", err)}
		o.record(ctx, res, time.Since(start))
		return res
	}
	defer unlock()

	res := o.step(ctx, userID, trigger, force)
	o.record(ctx, res, time.Since(start))
	return res
}

// step runs the state machine once. The caller holds the user's lock.
func (o *Orchestrator) step(ctx context.Context, userID string, trigger Trigger, force bool) Result {
	res := Result{UserID: userID, State: StateIdle, Trigger: trigger}

	wm, err := o.store.LoadWatermark(ctx, userID)
	if err != nil {
		res.Status = StatusError
		res.Detail = fmt.Sprintf("load watermark: %v", err)
		return res
	}
	events, err := o.store.ListFeedback(ctx, userID, wm.ProcessedCount)
	if err != nil {
		res.Status = StatusError
		res.Detail = fmt.Sprintf("list feedback: %v", err)
		return res
	}

	// Seq is the 1-based log position, so the last new event's seq is the total.
	total := wm.ProcessedCount
	if len(events) > 0 {
		total = events[len(events)-1].Seq
	}
	res.TotalFeedback = total

	if len(events) == 0 && !force {
		res.Status = StatusNoNewData
		return res
	}
	if total < o.config.MinFeedback {
		res.Status = StatusInsufficientData
		res.Detail = fmt.Sprintf("%d of %d required feedback events", total, o.config.MinFeedback)
		return res
	}
	// A batch is ready once the total reaches a multiple of BatchSize the
	// watermark has not. Events that skipped a Notify still cross the boundary.
	if !force && total/o.config.BatchSize <= wm.ProcessedCount/o.config.BatchSize {
		res.Status = StatusWaitingForBatch
		res.Detail = fmt.Sprintf("%d events, next batch at %d", total, (total/o.config.BatchSize+1)*o.config.BatchSize)
		return res
	}

	res.State = StateBatchReady
	o.logger.Info("batch ready",
		zap.String("user_id", userID),
		zap.String("trigger", string(trigger)),
		zap.Int("new_events", len(events)),
		zap.Int("total", total),
	)

	res.State = StateTraining
	if len(events) > 0 {
		inserted, err := o.builder.Materialize(ctx, userID, events, total)
		if err != nil {
			// Nothing was committed; the same slice is retried next time.
			res.State = StateIdle
			res.Status = StatusError
			res.Detail = fmt.Sprintf("materialize pairs: %v", err)
			return res
		}
		res.NewFeedbackProcessed = len(events)
		res.NewComparisonsGenerated = inserted
		if o.metrics != nil {
			o.metrics.PairsMaterialized.Add(float64(inserted))
		}
	}

	tr := o.trainer.Retrain(ctx, userID)
	res.TrainingResult = &tr
	res.State = StateDone
	res.Status = StatusCompleted
	if tr.Status == reward.StatusError {
		res.Status = StatusTrainingFailed
		res.Detail = tr.Reason
	}
	return res
}

// #endregion

// #region record

func (o *Orchestrator) record(ctx context.Context, res Result, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("user_id", res.UserID),
		zap.String("trigger", string(res.Trigger)),
		zap.String("status", string(res.Status)),
		zap.String("state", string(res.State)),
		zap.Int("new_feedback", res.NewFeedbackProcessed),
		zap.Int("total_feedback", res.TotalFeedback),
		zap.Int("new_pairs", res.NewComparisonsGenerated),
		zap.Duration("elapsed", elapsed),
	}
	switch res.Status {
	case StatusError, StatusTrainingFailed:
		o.logger.Warn("retrain decision", append(fields, zap.String("detail", res.Detail))...)
	default:
		o.logger.Debug("retrain decision", fields...)
	}

	if o.metrics != nil {
		o.metrics.DecisionsTotal.WithLabelValues(string(res.Status)).Inc()
		if res.TrainingResult != nil {
			o.metrics.TrainingTotal.WithLabelValues(res.TrainingResult.Status).Inc()
			o.metrics.TrainingDuration.Observe(elapsed.Seconds())
		}
	}

	if o.decisions == nil {
		return
	}
	entry := logging.RetrainEntry{
		UserID:        res.UserID,
		Trigger:       string(res.Trigger),
		Status:        string(res.Status),
		State:         string(res.State),
		NewFeedback:   res.NewFeedbackProcessed,
		TotalFeedback: res.TotalFeedback,
		NewPairs:      res.NewComparisonsGenerated,
		Reason:        res.Detail,
	}
	if res.TrainingResult != nil {
		entry.TrainingStatus = res.TrainingResult.Status
		if b, err := json.Marshal(res.TrainingResult); err == nil {
			entry.DetailJSON = string(b)
		}
	}
	// The decision log is best effort; a failed write never changes the result.
	if err := logging.LogDecision(context.WithoutCancel(ctx), o.decisions, entry); err != nil {
		o.logger.Warn("failed to log retrain decision", zap.Error(err))
	}
}

// #endregion
