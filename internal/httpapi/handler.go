package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/contrast"
	"github.com/danielpatrickdp/preference-engine/internal/engine"
	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
	"github.com/danielpatrickdp/preference-engine/internal/reward"
	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

// Service is the engine surface the handlers call.
type Service interface {
	SubmitFeedback(ctx context.Context, userID string, fb engine.Feedback) (engine.Receipt, error)
	CurrentProfile(ctx context.Context, userID string) (state.Profile, error)
	ResetProfile(ctx context.Context, userID string) (state.Profile, error)
	TrainingStats(ctx context.Context, userID string) (engine.TrainingStats, error)
	Evaluate(ctx context.Context, userID, text string) reward.Scored
	Rank(ctx context.Context, userID string, candidates []string) []reward.Scored
	RetrainNow(ctx context.Context, userID string) orchestrator.Result
}

// PreferenceHandler serves the per-user preference endpoints.
type PreferenceHandler struct {
	logger *zap.Logger
	svc    Service
	gen    contrast.Generator
}

// NewPreferenceHandler creates a handler. gen may be nil, which disables /generate.
func NewPreferenceHandler(logger *zap.Logger, svc Service, gen contrast.Generator) *PreferenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceHandler{logger: logger, svc: svc, gen: gen}
}

// profileView renders traits by name instead of by index.
type profileView struct {
	UserID           string             `json:"user_id"`
	Traits           map[string]float64 `json:"traits"`
	FeedbackCount    int                `json:"feedback_count"`
	LastLearningRate float64            `json:"last_learning_rate"`
	LastUpdated      *time.Time         `json:"last_updated,omitempty"`
	Phase            string             `json:"phase"`
}

func newProfileView(p state.Profile) profileView {
	return profileView{
		UserID:           p.UserID,
		Traits:           p.Traits.Map(),
		FeedbackCount:    p.FeedbackCount,
		LastLearningRate: p.LastLearningRate,
		LastUpdated:      p.LastUpdated,
		Phase:            update.Phase(p.FeedbackCount),
	}
}

// SubmitFeedback handles POST /users/:user_id/feedback.
func (h *PreferenceHandler) SubmitFeedback(c *gin.Context) {
	var req struct {
		Prompt      string             `json:"prompt"`
		Response    string             `json:"response" binding:"required"`
		Outcome     string             `json:"outcome" binding:"required"`
		ProfileUsed map[string]float64 `json:"profile_used" binding:"required"`
		SessionID   string             `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid feedback request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	outcome, err := state.ParseOutcome(req.Outcome)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	used, err := trait.FromMap(req.ProfileUsed)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Param("user_id")
	receipt, err := h.svc.SubmitFeedback(c.Request.Context(), userID, engine.Feedback{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		Response:    req.Response,
		ProfileUsed: used,
		Outcome:     outcome,
	})
	if err != nil {
		if errors.Is(err, engine.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		h.logger.Error("submit feedback failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record feedback"})
		return
	}

	resp := gin.H{
		"seq":      receipt.Event.Seq,
		"event_id": receipt.Event.ID,
		"profile":  newProfileView(receipt.Profile),
		"decision": gin.H{"action": receipt.Decision.Action, "reason": receipt.Decision.Reason},
	}
	if receipt.Retrain != nil {
		resp["retrain"] = receipt.Retrain
	}
	c.JSON(http.StatusCreated, resp)
}

// GetProfile handles GET /users/:user_id/profile.
func (h *PreferenceHandler) GetProfile(c *gin.Context) {
	userID := c.Param("user_id")
	p, err := h.svc.CurrentProfile(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("load profile failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": newProfileView(p)})
}

// ResetProfile handles POST /users/:user_id/reset.
func (h *PreferenceHandler) ResetProfile(c *gin.Context) {
	userID := c.Param("user_id")
	p, err := h.svc.ResetProfile(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("reset failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not reset profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": newProfileView(p)})
}

// GetStats handles GET /users/:user_id/stats.
func (h *PreferenceHandler) GetStats(c *gin.Context) {
	userID := c.Param("user_id")
	st, err := h.svc.TrainingStats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("training stats failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// Score handles POST /users/:user_id/score.
func (h *PreferenceHandler) Score(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	c.JSON(http.StatusOK, h.svc.Evaluate(c.Request.Context(), c.Param("user_id"), req.Text))
}

// Rank handles POST /users/:user_id/rank.
func (h *PreferenceHandler) Rank(c *gin.Context) {
	var req struct {
		Candidates []string `json:"candidates" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "candidates are required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranked": h.svc.Rank(c.Request.Context(), c.Param("user_id"), req.Candidates)})
}

// Retrain handles POST /users/:user_id/retrain.
func (h *PreferenceHandler) Retrain(c *gin.Context) {
	res := h.svc.RetrainNow(c.Request.Context(), c.Param("user_id"))
	status := http.StatusOK
	if res.Status == orchestrator.StatusError {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"result": res})
}

// Generate handles POST /users/:user_id/generate. The current profile is used
// unless a preset is named; the response carries the profile it was produced
// with so the client can send it back as profile_used.
func (h *PreferenceHandler) Generate(c *gin.Context) {
	if h.gen == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no generator configured"})
		return
	}
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
		Preset string `json:"preset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	userID := c.Param("user_id")
	var profile trait.Vector
	if req.Preset != "" {
		p, ok := trait.Presets[req.Preset]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preset"})
			return
		}
		profile = p
	} else {
		p, err := h.svc.CurrentProfile(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("load profile failed", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch profile"})
			return
		}
		profile = p.Traits
	}

	text, err := h.gen.Generate(c.Request.Context(), req.Prompt, profile)
	if err != nil {
		h.logger.Warn("generation failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": text, "profile_used": profile.Map()})
}

// ListPresets handles GET /presets.
func (h *PreferenceHandler) ListPresets(c *gin.Context) {
	names := make([]string, 0, len(trait.Presets))
	for name := range trait.Presets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		out = append(out, gin.H{"name": name, "traits": trait.Presets[name].Map()})
	}
	c.JSON(http.StatusOK, gin.H{"presets": out})
}
