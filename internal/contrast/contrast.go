// Package contrast derives counterfactual trait profiles and asks a
// generation backend for the response those profiles would have produced.
package contrast

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

// #region mode
// Mode selects how the contrastive profile is derived.
type Mode string

const (
	ModeOpposite        Mode = "opposite"
	ModeSingleDimension Mode = "single_dimension"
	ModeRandom          Mode = "random"
)

// DefaultMode gives the strongest contrast and is deterministic.
const DefaultMode = ModeOpposite

// ParseMode validates a mode name; empty selects DefaultMode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return DefaultMode, nil
	case ModeOpposite, ModeSingleDimension, ModeRandom:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown contrast mode %q", s)
}

// #endregion mode

// #region generator
// Generator produces text for a prompt in the style of a trait profile.
type Generator interface {
	Generate(ctx context.Context, prompt string, profile trait.Vector) (string, error)
}

// PlaceholderPrefix marks contrast text that did not come from a backend.
const PlaceholderPrefix = "[placeholder]"

// IsPlaceholder reports whether text was produced in place of a failed generation.
func IsPlaceholder(text string) bool {
	return strings.HasPrefix(text, PlaceholderPrefix)
}

func placeholder(err error) string {
	return fmt.Sprintf("%s contrastive response unavailable: %v", PlaceholderPrefix, err)
}

// #endregion generator

// #region profiles
// Opposite reflects every trait around the midpoint.
func Opposite(v trait.Vector) trait.Vector {
	return v.Opposite()
}

// SingleDimension pushes t to the far end opposite its current side.
func SingleDimension(v trait.Vector, t trait.Trait) trait.Vector {
	if v.Get(t) < trait.Midpoint {
		return v.With(t, 0.9)
	}
	return v.With(t, 0.1)
}

// Random draws every trait uniformly from [0.1, 0.9].
func Random(rng *rand.Rand) trait.Vector {
	var v trait.Vector
	for i := range v {
		v[i] = trait.Clamp(0.1 + rng.Float64()*0.8)
	}
	return v
}

// #endregion profiles

// #region synthesizer
// Request describes one contrastive synthesis.
type Request struct {
	Prompt  string
	Profile trait.Vector
	Mode    Mode
	// Dimension selects the trait for ModeSingleDimension. Nil picks one pseudo-randomly.
	Dimension *trait.Trait
}

// Contrast is a synthesized counterexample.
type Contrast struct {
	Profile     trait.Vector
	Text        string
	Placeholder bool
}

// Synthesizer builds contrastive profiles and their generated text.
type Synthesizer struct {
	gen     Generator
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithRand sets the random source used by ModeRandom and ModeSingleDimension.
func WithRand(rng *rand.Rand) Option {
	return func(s *Synthesizer) { s.rng = rng }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// WithRateLimit caps generation calls at rps per second. Zero or less means unlimited.
func WithRateLimit(rps float64) Option {
	return func(s *Synthesizer) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// NewSynthesizer creates a synthesizer. gen may be nil, in which case every
// contrast is a placeholder.
func NewSynthesizer(gen Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gen:     gen,
		timeout: 60 * time.Second,
		logger:  zap.NewNop(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("contrast")
	return s
}

// ContrastProfile derives the counterfactual profile for req without generating text.
func (s *Synthesizer) ContrastProfile(req Request) (trait.Vector, error) {
	mode := req.Mode
	if mode == "" {
		mode = DefaultMode
	}
	switch mode {
	case ModeOpposite:
		return Opposite(req.Profile), nil
	case ModeSingleDimension:
		var t trait.Trait
		if req.Dimension != nil {
			if !req.Dimension.Valid() {
				return trait.Vector{}, fmt.Errorf("invalid dimension %d", int(*req.Dimension))
			}
			t = *req.Dimension
		} else {
			s.mu.Lock()
			t = trait.All[s.rng.Intn(trait.Count)]
			s.mu.Unlock()
		}
		return SingleDimension(req.Profile, t), nil
	case ModeRandom:
		s.mu.Lock()
		defer s.mu.Unlock()
		return Random(s.rng), nil
	}
	return trait.Vector{}, fmt.Errorf("unknown contrast mode %q", mode)
}

// Synthesize derives the contrastive profile and generates text for the
// original prompt in that style. Backend failures never surface as errors:
// the text falls back to a placeholder and Contrast.Placeholder is set.
// The only error is an invalid request.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (Contrast, error) {
	profile, err := s.ContrastProfile(req)
	if err != nil {
		return Contrast{}, err
	}

	if s.gen == nil {
		return Contrast{Profile: profile, Text: placeholder(errors.New("no generation backend")), Placeholder: true}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var text string
	if s.limiter != nil {
		err = s.limiter.Wait(genCtx)
	}
	if err == nil {
		text, err = s.gen.Generate(genCtx, req.Prompt, profile)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty generation")
	}
	if err != nil {
		s.logger.Warn("contrastive generation failed, using placeholder", zap.Error(err))
		return Contrast{Profile: profile, Text: placeholder(err), Placeholder: true}, nil
	}
	return Contrast{Profile: profile, Text: text}, nil
}

// #endregion synthesizer
