package orchestrator

// #region imports
import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// #endregion

// UserLister enumerates users with persisted state.
type UserLister interface {
	ListUsers(ctx context.Context) ([]string, error)
}

// #region sweeper

// Sweeper periodically runs Notify for every known user so batches that
// became ready without a fresh submission (for example after a crash) are
// picked up.
type Sweeper struct {
	orch   *Orchestrator
	users  UserLister
	cron   *cron.Cron
	logger *zap.Logger
}

// NewSweeper schedules sweeps on a standard five-field cron spec.
func NewSweeper(orch *Orchestrator, users UserLister, spec string, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		orch:   orch,
		users:  users,
		cron:   cron.New(),
		logger: logger.Named("sweeper"),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("retrain sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("retrain sweeper stopped")
}

// Sweep runs one pass over all users and returns each user's result.
func (s *Sweeper) Sweep(ctx context.Context) map[string]Result {
	results, err := s.orch.Sweep(ctx, s.users)
	if err != nil {
		s.logger.Error("sweep: list users", zap.Error(err))
		return nil
	}
	s.logger.Info("sweep finished", zap.Int("users", len(results)))
	return results
}

// Sweep applies the batch policy once to every user the lister returns.
func (o *Orchestrator) Sweep(ctx context.Context, users UserLister) (map[string]Result, error) {
	ids, err := users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]Result, len(ids))
	for _, u := range ids {
		if ctx.Err() != nil {
			break
		}
		results[u] = o.run(ctx, u, TriggerSweep, false)
	}
	return results, nil
}
