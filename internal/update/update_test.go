package update

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

const eps = 1e-9

func TestRateAtZeroIsBase(t *testing.T) {
	s := DefaultSchedule()
	if got := s.Rate(0); got != s.Base {
		t.Fatalf("expected %f, got %f", s.Base, got)
	}
}

func TestRateMonotonicAndBounded(t *testing.T) {
	s := DefaultSchedule()
	prev := s.Rate(0)
	for n := 1; n <= 1000; n++ {
		r := s.Rate(n)
		if r > prev+eps {
			t.Fatalf("rate increased at %d: %f > %f", n, r, prev)
		}
		if r < s.Floor-eps || r > s.Base+eps {
			t.Fatalf("rate %f at %d outside [%f, %f]", r, n, s.Floor, s.Base)
		}
		prev = r
	}
	if math.Abs(s.Rate(1000)-s.Floor) > eps {
		t.Fatalf("expected floor at large count, got %f", s.Rate(1000))
	}
}

func TestRateKnownValues(t *testing.T) {
	s := DefaultSchedule()
	tests := []struct {
		count int
		want  float64
	}{
		{10, 0.25 * 0.85},
		{30, 0.25 * math.Pow(0.85, 3)},
		{-5, 0.25},
	}
	for _, tt := range tests {
		if got := s.Rate(tt.count); math.Abs(got-tt.want) > eps {
			t.Errorf("Rate(%d) = %f, want %f", tt.count, got, tt.want)
		}
	}
}

func TestPhase(t *testing.T) {
	cases := map[int]string{0: "early", 9: "early", 10: "building", 30: "refining", 80: "fine_tuning"}
	for n, want := range cases {
		if got := Phase(n); got != want {
			t.Errorf("Phase(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestPositiveMovesToward(t *testing.T) {
	old := state.DefaultProfile("u1")
	used := trait.Default().With(trait.Openness, 0.9)

	r := Apply(old, state.OutcomePositive, used, DefaultSchedule())

	if got := r.Profile.Traits.Get(trait.Openness); math.Abs(got-0.60) > eps {
		t.Fatalf("expected openness 0.60, got %f", got)
	}
	for _, tr := range trait.All[1:] {
		if r.Profile.Traits.Get(tr) != 0.5 {
			t.Fatalf("%s should be unchanged, got %f", tr, r.Profile.Traits.Get(tr))
		}
	}
	if r.Profile.FeedbackCount != 1 {
		t.Fatalf("expected count 1, got %d", r.Profile.FeedbackCount)
	}
	if r.Profile.LastLearningRate != 0.25 {
		t.Fatalf("expected last rate 0.25, got %f", r.Profile.LastLearningRate)
	}
	if r.Decision.Action != "commit" {
		t.Fatalf("expected commit, got %s", r.Decision.Action)
	}
	if len(r.Metrics.TraitsMoved) != 1 || r.Metrics.TraitsMoved[0] != "openness" {
		t.Fatalf("unexpected traits moved %v", r.Metrics.TraitsMoved)
	}
}

func TestNegativeMovesAwayAtHalfRate(t *testing.T) {
	old := state.DefaultProfile("u1")
	used := trait.Default().With(trait.Conscientiousness, 0.9)

	r := Apply(old, state.OutcomeNegative, used, DefaultSchedule())

	if got := r.Profile.Traits.Get(trait.Conscientiousness); math.Abs(got-0.45) > eps {
		t.Fatalf("expected conscientiousness 0.45, got %f", got)
	}
}

func TestPositiveWithIdenticalProfileIsNoOp(t *testing.T) {
	old := state.DefaultProfile("u1")
	old.Traits = trait.Vector{0.1, 0.3, 0.5, 0.7, 0.9}
	old.FeedbackCount = 7

	r := Apply(old, state.OutcomePositive, old.Traits, DefaultSchedule())

	if r.Profile.Traits != old.Traits {
		t.Fatalf("traits changed: %v -> %v", old.Traits, r.Profile.Traits)
	}
	if r.Decision.Action != "no_op" {
		t.Fatalf("expected no_op, got %s", r.Decision.Action)
	}
	if r.Profile.FeedbackCount != 8 {
		t.Fatalf("count should still advance, got %d", r.Profile.FeedbackCount)
	}
}

func TestApplyAlwaysClamps(t *testing.T) {
	extreme := Schedule{Base: 50, Floor: 10, Decay: 1}
	old := state.DefaultProfile("u1")
	old.Traits = trait.Vector{0, 1, 0.2, 0.8, 0.5}

	for _, outcome := range []state.Outcome{state.OutcomePositive, state.OutcomeNegative} {
		for _, used := range []trait.Vector{{1, 0, 1, 0, 1}, {0, 1, 0, 1, 0}} {
			r := Apply(old, outcome, used, extreme)
			for _, tr := range trait.All {
				v := r.Profile.Traits.Get(tr)
				if v < 0 || v > 1 {
					t.Fatalf("%s/%v: %s out of range: %f", outcome, used, tr, v)
				}
			}
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	old := state.DefaultProfile("u1")
	before := old.Traits
	Apply(old, state.OutcomePositive, trait.Vector{1, 1, 1, 1, 1}, DefaultSchedule())
	if old.Traits != before || old.FeedbackCount != 0 {
		t.Fatal("Apply mutated its input")
	}
}

func TestApplyUsesDecayedRate(t *testing.T) {
	old := state.DefaultProfile("u1")
	old.FeedbackCount = 10
	used := trait.Default().With(trait.Extraversion, 1.0)

	r := Apply(old, state.OutcomePositive, used, DefaultSchedule())

	want := 0.5 + 0.5*0.25*0.85
	if got := r.Profile.Traits.Get(trait.Extraversion); math.Abs(got-want) > eps {
		t.Fatalf("expected %f, got %f", want, got)
	}
}
