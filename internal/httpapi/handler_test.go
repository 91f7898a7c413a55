package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/preference-engine/internal/contrast"
	"github.com/danielpatrickdp/preference-engine/internal/dataset"
	"github.com/danielpatrickdp/preference-engine/internal/embedding"
	"github.com/danielpatrickdp/preference-engine/internal/engine"
	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// #region helpers
type stubGenerator struct {
	err  error
	seen trait.Vector
}

func (s *stubGenerator) Generate(_ context.Context, prompt string, p trait.Vector) (string, error) {
	s.seen = p
	if s.err != nil {
		return "", s.err
	}
	return "Here is a thought about " + prompt, nil
}

func newTestRouter(t *testing.T, gen contrast.Generator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := state.NewStore(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	emb := embedding.NewHashing(32)
	orch := orchestrator.New(s,
		dataset.NewBuilder(contrast.NewSynthesizer(nil), s, nil),
		reward.NewTrainer(s, emb, nil, nil),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
	)
	eng := engine.New(s, orch, reward.NewScorer(s, emb, nil), engine.WithSyncRetrain(true))
	t.Cleanup(eng.Close)

	return NewRouter(nil, NewPreferenceHandler(nil, eng, gen), reg)
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type profileResp struct {
	Profile profileView `json:"profile"`
}

// #endregion helpers

func TestFeedbackUpdatesProfile(t *testing.T) {
	r := newTestRouter(t, nil)

	w := do(t, r, http.MethodPost, "/users/u1/feedback", map[string]any{
		"prompt":       "I can't focus",
		"response":     "Try a 25 minute timer.",
		"outcome":      "helped",
		"profile_used": map[string]float64{"openness": 0.9},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var fr struct {
		Seq     int         `json:"seq"`
		Profile profileView `json:"profile"`
	}
	decode(t, w, &fr)
	if fr.Seq != 1 || fr.Profile.FeedbackCount != 1 {
		t.Fatalf("unexpected response %+v", fr)
	}

	w = do(t, r, http.MethodGet, "/users/u1/profile", nil)
	var pr profileResp
	decode(t, w, &pr)
	if got := pr.Profile.Traits["openness"]; got < 0.599 || got > 0.601 {
		t.Fatalf("openness = %f, want 0.60", got)
	}
	if pr.Profile.Phase == "" {
		t.Fatal("phase missing")
	}
}

func TestFeedbackValidation(t *testing.T) {
	r := newTestRouter(t, nil)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing response", map[string]any{"outcome": "positive", "profile_used": map[string]float64{}}},
		{"bad outcome", map[string]any{"response": "x", "outcome": "meh", "profile_used": map[string]float64{}}},
		{"unknown trait", map[string]any{"response": "x", "outcome": "positive", "profile_used": map[string]float64{"charm": 0.5}}},
		{"out of range", map[string]any{"response": "x", "outcome": "positive", "profile_used": map[string]float64{"openness": 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, r, http.MethodPost, "/users/u1/feedback", tt.body); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestStatsResetAndRetrain(t *testing.T) {
	r := newTestRouter(t, nil)
	for i := 0; i < 3; i++ {
		do(t, r, http.MethodPost, "/users/u1/feedback", map[string]any{
			"response":     "Go for a walk.",
			"outcome":      "did_not_help",
			"profile_used": map[string]float64{"extraversion": 0.8},
		})
	}

	var sr struct {
		Stats engine.TrainingStats `json:"stats"`
	}
	decode(t, do(t, r, http.MethodGet, "/users/u1/stats", nil), &sr)
	if sr.Stats.TotalFeedback != 3 || sr.Stats.NegativeFeedback != 3 || sr.Stats.TotalComparisons != 3 {
		t.Fatalf("unexpected stats %+v", sr.Stats)
	}
	if sr.Stats.PlaceholderComparisons != 3 || !sr.Stats.HasModel {
		t.Fatalf("expected placeholder pairs and a model, got %+v", sr.Stats)
	}

	w := do(t, r, http.MethodPost, "/users/u1/retrain", nil)
	var rr struct {
		Result orchestrator.Result `json:"result"`
	}
	decode(t, w, &rr)
	if w.Code != http.StatusOK || rr.Result.Status != orchestrator.StatusCompleted {
		t.Fatalf("unexpected retrain %d %+v", w.Code, rr.Result)
	}

	w = do(t, r, http.MethodPost, "/users/u1/reset", nil)
	var pr profileResp
	decode(t, w, &pr)
	if pr.Profile.FeedbackCount != 0 || pr.Profile.Traits["extraversion"] != 0.5 {
		t.Fatalf("profile not reset: %+v", pr.Profile)
	}
	decode(t, do(t, r, http.MethodGet, "/users/u1/stats", nil), &sr)
	if sr.Stats.TotalFeedback != 0 || sr.Stats.TotalComparisons != 0 || sr.Stats.HasModel {
		t.Fatalf("stats not cleared: %+v", sr.Stats)
	}
}

func TestScoreAndRank(t *testing.T) {
	r := newTestRouter(t, nil)

	var sc reward.Scored
	decode(t, do(t, r, http.MethodPost, "/users/u1/score", map[string]string{
		"text": strings.TrimSpace(strings.Repeat("word ", 100)),
	}), &sc)
	if sc.Score != 0.5 || sc.Source != reward.SourceHeuristic {
		t.Fatalf("unexpected score %+v", sc)
	}

	var rk struct {
		Ranked []reward.Scored `json:"ranked"`
	}
	decode(t, do(t, r, http.MethodPost, "/users/u1/rank", map[string]any{
		"candidates": []string{"one", "one two three"},
	}), &rk)
	if len(rk.Ranked) != 2 || rk.Ranked[0].Text != "one two three" {
		t.Fatalf("unexpected ranking %+v", rk.Ranked)
	}

	if w := do(t, r, http.MethodPost, "/users/u1/rank", map[string]any{"candidates": []string{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty candidates, got %d", w.Code)
	}
}

func TestGenerate(t *testing.T) {
	gen := &stubGenerator{}
	r := newTestRouter(t, gen)

	w := do(t, r, http.MethodPost, "/users/u1/generate", map[string]string{"prompt": "stress", "preset": "creative"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gen.seen != trait.Presets["creative"] {
		t.Fatalf("generator got %v", gen.seen)
	}

	if w := do(t, r, http.MethodPost, "/users/u1/generate", map[string]string{"prompt": "x", "preset": "nope"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown preset, got %d", w.Code)
	}

	gen.err = errors.New("backend down")
	if w := do(t, r, http.MethodPost, "/users/u1/generate", map[string]string{"prompt": "x"}); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if gen.seen != trait.Default() {
		t.Fatalf("expected the stored default profile, got %v", gen.seen)
	}
}

func TestGenerateWithoutBackend(t *testing.T) {
	r := newTestRouter(t, nil)
	if w := do(t, r, http.MethodPost, "/users/u1/generate", map[string]string{"prompt": "x"}); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPresetsHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, nil)

	var pr struct {
		Presets []struct {
			Name   string             `json:"name"`
			Traits map[string]float64 `json:"traits"`
		} `json:"presets"`
	}
	decode(t, do(t, r, http.MethodGet, "/presets", nil), &pr)
	if len(pr.Presets) != len(trait.Presets) || pr.Presets[0].Name != "balanced" {
		t.Fatalf("unexpected presets %+v", pr.Presets)
	}

	if w := do(t, r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", w.Code)
	}

	do(t, r, http.MethodPost, "/users/u1/retrain", nil)
	w := do(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "prefengine_retrain_decisions_total") {
		t.Fatalf("metrics missing decisions counter: %d %s", w.Code, w.Body.String())
	}
}
