package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danielpatrickdp/preference-engine/internal/contrast"
	"github.com/danielpatrickdp/preference-engine/internal/dataset"
	"github.com/danielpatrickdp/preference-engine/internal/embedding"
	"github.com/danielpatrickdp/preference-engine/internal/logging"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// #region helpers
type countingTrainer struct {
	mu     sync.Mutex
	calls  int
	result reward.TrainingResult
}

func (c *countingTrainer) Retrain(context.Context, string) reward.TrainingResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result
}

func (c *countingTrainer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingBuilder struct{}

func (failingBuilder) Materialize(context.Context, string, []state.FeedbackEvent, int) (int, error) {
	return 0, errors.New("disk full")
}

type fixture struct {
	store   *state.Store
	builder *dataset.Builder
	trainer *countingTrainer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &fixture{
		store:   s,
		builder: dataset.NewBuilder(contrast.NewSynthesizer(nil), s, nil),
		trainer: &countingTrainer{result: reward.TrainingResult{Status: reward.StatusTrained}},
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return New(f.store, f.builder, f.trainer, opts...)
}

func (f *fixture) submit(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.store.AppendFeedback(context.Background(), state.FeedbackEvent{
			UserID:      userID,
			Prompt:      "I can't get started",
			Response:    "Write down one small step.",
			ProfileUsed: trait.Default().With(trait.Conscientiousness, 0.8),
			Outcome:     state.OutcomePositive,
		})
		if err != nil {
			t.Fatalf("AppendFeedback: %v", err)
		}
	}
}

func (f *fixture) pairCount(t *testing.T, userID string) int {
	t.Helper()
	c, err := f.store.CountPairs(context.Background(), userID)
	if err != nil {
		t.Fatalf("CountPairs: %v", err)
	}
	return c.Total
}

func (f *fixture) watermark(t *testing.T, userID string) int {
	t.Helper()
	wm, err := f.store.LoadWatermark(context.Background(), userID)
	if err != nil {
		t.Fatalf("LoadWatermark: %v", err)
	}
	return wm.ProcessedCount
}

// #endregion helpers

// #region state-machine-tests
func TestNotifyThreeEventsTrainsOnce(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "u1", 1)
	if res := o.Notify(ctx, "u1"); res.Status != StatusInsufficientData || res.State != StateIdle {
		t.Fatalf("after 1 event: %+v", res)
	}
	f.submit(t, "u1", 1)
	if res := o.Notify(ctx, "u1"); res.Status != StatusInsufficientData {
		t.Fatalf("after 2 events: %+v", res)
	}
	f.submit(t, "u1", 1)
	res := o.Notify(ctx, "u1")
	if res.Status != StatusCompleted || res.State != StateDone {
		t.Fatalf("after 3 events: %+v", res)
	}
	if res.NewFeedbackProcessed != 3 || res.TotalFeedback != 3 || res.NewComparisonsGenerated != 3 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.TrainingResult == nil || res.TrainingResult.Status != reward.StatusTrained {
		t.Fatalf("expected training result, got %+v", res.TrainingResult)
	}
	if got := f.pairCount(t, "u1"); got != 3 {
		t.Fatalf("expected 3 pairs, got %d", got)
	}
	if got := f.watermark(t, "u1"); got != 3 {
		t.Fatalf("expected watermark 3, got %d", got)
	}

	res = o.Notify(ctx, "u1")
	if res.Status != StatusNoNewData {
		t.Fatalf("expected no_new_data, got %+v", res)
	}
	if f.pairCount(t, "u1") != 3 || f.trainer.Calls() != 1 {
		t.Fatalf("repeat notify changed state: pairs=%d calls=%d", f.pairCount(t, "u1"), f.trainer.Calls())
	}
}

func TestNotifyWaitsForBatch(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "u1", 3)
	o.Notify(ctx, "u1")
	f.submit(t, "u1", 1)

	res := o.Notify(ctx, "u1")
	if res.Status != StatusWaitingForBatch || res.State != StateIdle {
		t.Fatalf("expected waiting_for_batch, got %+v", res)
	}
	if f.watermark(t, "u1") != 3 {
		t.Fatal("watermark must not move while waiting")
	}

	f.submit(t, "u1", 2)
	res = o.Notify(ctx, "u1")
	if res.Status != StatusCompleted || res.NewFeedbackProcessed != 3 || res.TotalFeedback != 6 {
		t.Fatalf("expected second batch of 3, got %+v", res)
	}
	if f.pairCount(t, "u1") != 6 {
		t.Fatalf("expected 6 pairs, got %d", f.pairCount(t, "u1"))
	}
}

func TestNotifyNoFeedback(t *testing.T) {
	f := newFixture(t)
	if res := f.orchestrator().Notify(context.Background(), "nobody"); res.Status != StatusNoNewData {
		t.Fatalf("expected no_new_data, got %+v", res)
	}
}

func TestTrainingFailureStillAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	f.trainer.result = reward.TrainingResult{Status: reward.StatusError, Reason: "fit diverged"}
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "u1", 3)
	res := o.Notify(ctx, "u1")

	if res.Status != StatusTrainingFailed || res.Detail != "fit diverged" {
		t.Fatalf("expected training_failed, got %+v", res)
	}
	if f.watermark(t, "u1") != 3 || f.pairCount(t, "u1") != 3 {
		t.Fatal("pairs and watermark must survive a training failure")
	}
	if res := o.Notify(ctx, "u1"); res.Status != StatusNoNewData {
		t.Fatalf("expected no_new_data after failure, got %+v", res)
	}
}

func TestMaterializeFailureKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	o := New(f.store, failingBuilder{}, f.trainer)

	f.submit(t, "u1", 3)
	res := o.Notify(context.Background(), "u1")

	if res.Status != StatusError || res.State != StateIdle {
		t.Fatalf("expected error in idle, got %+v", res)
	}
	if f.watermark(t, "u1") != 0 || f.trainer.Calls() != 0 {
		t.Fatal("nothing should advance when materialization fails")
	}
}

func TestCorruptWatermarkRebuildsWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "u1", 3)
	o.Notify(ctx, "u1")

	if _, err := f.store.DB().Exec(`UPDATE watermarks SET record_json = 'not json' WHERE user_id = ?`, "u1"); err != nil {
		t.Fatalf("corrupt watermark: %v", err)
	}

	res := o.Notify(ctx, "u1")
	if res.Status != StatusCompleted {
		t.Fatalf("expected rebuild, got %+v", res)
	}
	if res.NewFeedbackProcessed != 3 || res.NewComparisonsGenerated != 0 {
		t.Fatalf("rebuild should reprocess 3 events and add no pairs, got %+v", res)
	}
	if f.pairCount(t, "u1") != 3 {
		t.Fatalf("expected 3 pairs after rebuild, got %d", f.pairCount(t, "u1"))
	}
	if f.watermark(t, "u1") != 3 {
		t.Fatalf("expected watermark repaired to 3, got %d", f.watermark(t, "u1"))
	}
}

func TestRetrainNowBypassesBatch(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "u1", 4)
	res := o.RetrainNow(ctx, "u1")
	if res.Status != StatusCompleted || res.NewComparisonsGenerated != 4 || res.Trigger != TriggerManual {
		t.Fatalf("expected manual training on 4 events, got %+v", res)
	}

	// With nothing new, a manual retrain still refits on the stored pairs.
	res = o.RetrainNow(ctx, "u1")
	if res.Status != StatusCompleted || res.NewFeedbackProcessed != 0 {
		t.Fatalf("expected refit without new data, got %+v", res)
	}
	if f.trainer.Calls() != 2 {
		t.Fatalf("expected 2 trainer calls, got %d", f.trainer.Calls())
	}
}

func TestNotifyAfterMissedBoundary(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	// Four events land before the first Notify, so the total skips past 3.
	f.submit(t, "u1", 4)
	res := o.Notify(ctx, "u1")
	if res.Status != StatusCompleted || res.NewFeedbackProcessed != 4 || res.TotalFeedback != 4 {
		t.Fatalf("expected crossed batch to train, got %+v", res)
	}
	if got := f.watermark(t, "u1"); got != 4 {
		t.Fatalf("expected watermark 4, got %d", got)
	}

	f.submit(t, "u1", 1)
	if res := o.Notify(ctx, "u1"); res.Status != StatusWaitingForBatch {
		t.Fatalf("5 events with watermark 4 should wait, got %+v", res)
	}
	f.submit(t, "u1", 3)
	res = o.Notify(ctx, "u1")
	if res.Status != StatusCompleted || res.NewFeedbackProcessed != 4 || res.TotalFeedback != 8 {
		t.Fatalf("expected batch at 8 after crossing 6, got %+v", res)
	}
	if f.trainer.Calls() != 2 {
		t.Fatalf("expected 2 trainings, got %d", f.trainer.Calls())
	}
}

func TestRetrainNowRespectsMinimum(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(WithConfig(Config{MinFeedback: 5, BatchSize: 3}))

	f.submit(t, "u1", 4)
	if res := o.RetrainNow(context.Background(), "u1"); res.Status != StatusInsufficientData {
		t.Fatalf("expected insufficient_data, got %+v", res)
	}
}

func TestConcurrentNotifyMaterializesOnce(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	f.submit(t, "u1", 3)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Notify(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	completed := 0
	for _, r := range results {
		switch r.Status {
		case StatusCompleted:
			completed++
		case StatusNoNewData:
		default:
			t.Fatalf("unexpected status %+v", r)
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed run, got %d", completed)
	}
	if f.pairCount(t, "u1") != 3 || f.trainer.Calls() != 1 {
		t.Fatalf("expected 3 pairs and 1 training, got %d/%d", f.pairCount(t, "u1"), f.trainer.Calls())
	}
}

func TestUsersAreIndependent(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	ctx := context.Background()

	f.submit(t, "alice", 3)
	f.submit(t, "bob", 2)

	if res := o.Notify(ctx, "alice"); res.Status != StatusCompleted {
		t.Fatalf("alice: %+v", res)
	}
	if res := o.Notify(ctx, "bob"); res.Status != StatusInsufficientData {
		t.Fatalf("bob: %+v", res)
	}
	if f.pairCount(t, "bob") != 0 {
		t.Fatal("bob should have no pairs")
	}
}

func TestEndToEndWithRealTrainer(t *testing.T) {
	f := newFixture(t)
	trainer := reward.NewTrainer(f.store, embedding.NewHashing(64), nil, nil)
	o := New(f.store, f.builder, trainer)

	f.submit(t, "u1", 3)
	res := o.Notify(context.Background(), "u1")

	if res.Status != StatusCompleted || res.TrainingResult.Status != reward.StatusTrained {
		t.Fatalf("expected trained model, got %+v", res)
	}
	m, ok, err := f.store.LoadModel(context.Background(), "u1")
	if err != nil || !ok {
		t.Fatalf("expected persisted model: %v", err)
	}
	if m.PairCount != 3 || m.EmbedderID != "hashing-64" {
		t.Fatalf("unexpected artifact %+v", m)
	}
}

// #endregion state-machine-tests

// #region observability-tests
func TestDecisionLogAndMetrics(t *testing.T) {
	f := newFixture(t)
	if err := logging.EnsureSchema(f.store.DB()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	o := f.orchestrator(WithMetrics(m), WithDecisionLog(f.store.DB()))
	ctx := context.Background()

	f.submit(t, "u1", 3)
	o.Notify(ctx, "u1")
	o.Notify(ctx, "u1")

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues(string(StatusCompleted))); got != 1 {
		t.Errorf("expected 1 completed decision, got %f", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues(string(StatusNoNewData))); got != 1 {
		t.Errorf("expected 1 no_new_data decision, got %f", got)
	}
	if got := testutil.ToFloat64(m.PairsMaterialized); got != 3 {
		t.Errorf("expected 3 pairs counted, got %f", got)
	}

	entries, err := logging.ListDecisions(ctx, f.store.DB(), "u1", 0)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 logged decisions, got %d", len(entries))
	}
	if entries[1].Status != string(StatusCompleted) || entries[1].TrainingStatus != reward.StatusTrained {
		t.Errorf("unexpected first decision %+v", entries[1])
	}
}

func TestNewMetricsNilRegistry(t *testing.T) {
	if NewMetrics(nil) != nil {
		t.Fatal("expected nil metrics for nil registry")
	}
}

// #endregion observability-tests

// #region sweeper-tests
type staticUsers []string

func (s staticUsers) ListUsers(context.Context) ([]string, error) { return s, nil }

func TestSweepNotifiesEveryUser(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	f.submit(t, "alice", 3)
	f.submit(t, "bob", 1)

	s, err := NewSweeper(o, staticUsers{"alice", "bob"}, "*/5 * * * *", nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	results := s.Sweep(context.Background())

	if results["alice"].Status != StatusCompleted || results["alice"].Trigger != TriggerSweep {
		t.Fatalf("alice: %+v", results["alice"])
	}
	if results["bob"].Status != StatusInsufficientData {
		t.Fatalf("bob: %+v", results["bob"])
	}
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)
	s, err := NewSweeper(f.orchestrator(), staticUsers{}, "@every 1h", nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()
	s.Stop()
}

func TestNewSweeperInvalidSpec(t *testing.T) {
	f := newFixture(t)
	if _, err := NewSweeper(f.orchestrator(), staticUsers{}, "every tuesday", nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

// #endregion sweeper-tests

// #region locker-tests
func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "u1"); err == nil {
		t.Fatal("second lock on the same key should block until timeout")
	}

	other, err := k.Lock(context.Background(), "u2")
	if err != nil {
		t.Fatalf("different key should not block: %v", err)
	}
	other()

	unlock()
	unlock() // second call is a no-op

	again, err := k.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	again()

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected no retained entries, got %d", len(k.locks))
	}
}

// #endregion locker-tests

func TestExclusiveBlocksRetrain(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	f.submit(t, "u1", 3)

	entered := make(chan struct{})
	release := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- o.Exclusive(context.Background(), "u1", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan Result, 1)
	go func() { done <- o.Notify(context.Background(), "u1") }()

	select {
	case <-done:
		t.Fatal("Notify ran while the exclusive section held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-errc; err != nil {
		t.Fatalf("Exclusive: %v", err)
	}
	if res := <-done; res.Status != StatusCompleted {
		t.Fatalf("expected completed after release, got %+v", res)
	}
}
