package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Schedule        *FixtureSchedule        `json:"schedule,omitempty"`
	StartTraits     map[string]float64      `json:"start_traits,omitempty"`
	Events          []FixtureEvent          `json:"events"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
	ExpectedFinal   FixtureExpectedFinal    `json:"expected_final"`
}

// FixtureSchedule mirrors update.Schedule with JSON tags.
type FixtureSchedule struct {
	Base  float64 `json:"base"`
	Floor float64 `json:"floor"`
	Decay float64 `json:"decay"`
}

// FixtureEvent is one feedback event. Traits missing from profile_used sit at the midpoint.
type FixtureEvent struct {
	Outcome     string             `json:"outcome"`
	ProfileUsed map[string]float64 `json:"profile_used"`
	Prompt      string             `json:"prompt,omitempty"`
	Response    string             `json:"response,omitempty"`
}

// FixtureExpectedResult captures the expected action per event.
type FixtureExpectedResult struct {
	Seq    int    `json:"seq"`
	Action string `json:"action"`
}

// FixtureExpectedFinal is the expected profile after all events.
type FixtureExpectedFinal struct {
	FeedbackCount int                `json:"feedback_count"`
	Traits        map[string]float64 `json:"traits"`
	Tolerance     float64            `json:"tolerance"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// StartProfile builds the initial profile for userID.
func (f *Fixture) StartProfile(userID string) (state.Profile, error) {
	p := state.DefaultProfile(userID)
	if len(f.StartTraits) > 0 {
		v, err := trait.FromMap(f.StartTraits)
		if err != nil {
			return state.Profile{}, fmt.Errorf("start_traits: %w", err)
		}
		p.Traits = v
	}
	return p, nil
}

// ToSchedule returns the fixture's schedule, or the default when absent.
func (f *Fixture) ToSchedule() update.Schedule {
	if f.Schedule == nil {
		return update.DefaultSchedule()
	}
	return update.Schedule{Base: f.Schedule.Base, Floor: f.Schedule.Floor, Decay: f.Schedule.Decay}
}

// ToEvents converts fixture events into feedback events numbered from 1.
func (f *Fixture) ToEvents(userID string) ([]state.FeedbackEvent, error) {
	out := make([]state.FeedbackEvent, len(f.Events))
	for i, fe := range f.Events {
		outcome, err := state.ParseOutcome(fe.Outcome)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		used, err := trait.FromMap(fe.ProfileUsed)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		out[i] = state.FeedbackEvent{
			Seq:         i + 1,
			UserID:      userID,
			Prompt:      fe.Prompt,
			Response:    fe.Response,
			ProfileUsed: used,
			Outcome:     outcome,
		}
	}
	return out, nil
}

// #endregion fixture-loader

// #region fixture-check

// Check compares a replay against the fixture's expectations and returns one
// message per mismatch.
func Check(f *Fixture, results []ReplayResult, final state.Profile) []string {
	var failures []string
	if len(results) != len(f.ExpectedResults) {
		failures = append(failures, fmt.Sprintf("expected %d results, got %d", len(f.ExpectedResults), len(results)))
	}
	for i, want := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		got := results[i]
		if got.Seq != want.Seq || got.Action != want.Action {
			failures = append(failures, fmt.Sprintf("event %d: got seq=%d action=%s, want seq=%d action=%s",
				i, got.Seq, got.Action, want.Seq, want.Action))
		}
	}
	if final.FeedbackCount != f.ExpectedFinal.FeedbackCount {
		failures = append(failures, fmt.Sprintf("feedback count %d, want %d", final.FeedbackCount, f.ExpectedFinal.FeedbackCount))
	}
	for name, want := range f.ExpectedFinal.Traits {
		t, err := trait.Parse(name)
		if err != nil {
			failures = append(failures, fmt.Sprintf("expected trait: %v", err))
			continue
		}
		if got := final.Traits.Get(t); math.Abs(got-want) > f.ExpectedFinal.Tolerance {
			failures = append(failures, fmt.Sprintf("%s = %.15f, want %.15f", name, got, want))
		}
	}
	return failures
}

// #endregion fixture-check
