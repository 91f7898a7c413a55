package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

func TestFixtureReplay(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.json")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatal("no fixtures found")
	}

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := LoadFixture(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			start, err := f.StartProfile("fixture")
			if err != nil {
				t.Fatalf("start profile: %v", err)
			}
			events, err := f.ToEvents("fixture")
			if err != nil {
				t.Fatalf("events: %v", err)
			}

			results, final := Replay(start, events, f.ToSchedule())

			for _, msg := range Check(f, results, final) {
				t.Error(msg)
			}
		})
	}
}

func TestLoadFixtureErrors(t *testing.T) {
	if _, err := LoadFixture("testdata/missing.json"); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFixtureConversionErrors(t *testing.T) {
	f := &Fixture{Events: []FixtureEvent{{Outcome: "maybe"}}}
	if _, err := f.ToEvents("u"); err == nil {
		t.Fatal("expected outcome error")
	}

	f = &Fixture{Events: []FixtureEvent{{Outcome: "positive", ProfileUsed: map[string]float64{"openness": 1.5}}}}
	if _, err := f.ToEvents("u"); err == nil {
		t.Fatal("expected range error")
	}

	f = &Fixture{StartTraits: map[string]float64{"charisma": 0.5}}
	if _, err := f.StartProfile("u"); err == nil {
		t.Fatal("expected unknown trait error")
	}
}

func TestCheckReportsMismatches(t *testing.T) {
	f := &Fixture{
		ExpectedResults: []FixtureExpectedResult{{Seq: 1, Action: "commit"}},
		ExpectedFinal: FixtureExpectedFinal{
			FeedbackCount: 2,
			Traits:        map[string]float64{"openness": 0.9},
			Tolerance:     1e-9,
		},
	}
	results := []ReplayResult{{Seq: 1, Action: "no_op"}}
	final := state.DefaultProfile("u")
	final.FeedbackCount = 1

	if got := Check(f, results, final); len(got) != 3 {
		t.Fatalf("expected 3 failures, got %v", got)
	}
	final.FeedbackCount = 2
	final.Traits = trait.Default().With(trait.Openness, 0.9)
	results[0].Action = "commit"
	if got := Check(f, results, final); len(got) != 0 {
		t.Fatalf("expected no failures, got %v", got)
	}
}
