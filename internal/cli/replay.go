package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/preference-engine/internal/replay"
	"github.com/danielpatrickdp/preference-engine/internal/state"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a profile from its feedback log and compare it with the stored one",
		Long: "DB mode (--user) re-applies the user's feedback log from the default profile and reports drift " +
			"against the stored profile. Fixture mode (--fixture) replays a JSON fixture and checks its expectations.",
		RunE: runReplay,
	}
	cmd.Flags().StringP("user", "u", "", "User ID (DB mode)")
	cmd.Flags().String("fixture", "", "Path to fixture JSON (fixture mode)")
	cmd.Flags().Float64("tolerance", 1e-9, "Maximum per-trait difference treated as a match")
	cmd.Flags().Bool("events", false, "Include per-event results")
	RootCmd.AddCommand(cmd)
}

// errDrift reports that the rebuilt profile differs from the stored one.
var errDrift = errors.New("rebuilt profile differs from stored profile")

func runReplay(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	fixture, _ := cmd.Flags().GetString("fixture")
	tol, _ := cmd.Flags().GetFloat64("tolerance")
	withEvents, _ := cmd.Flags().GetBool("events")

	if (user == "") == (fixture == "") {
		return errors.New("replay: exactly one of --user or --fixture is required")
	}
	if fixture != "" {
		return runFixtureReplay(fixture)
	}

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)
	ctx := cmd.Context()

	stored, err := app.Store.LoadProfile(ctx, user)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	events, err := app.Store.ListFeedback(ctx, user, 0)
	if err != nil {
		return fmt.Errorf("list feedback: %w", err)
	}

	results, final := replay.Replay(state.DefaultProfile(user), events, app.Engine.Schedule())
	drift := replay.Compare(stored, final, tol)

	out := map[string]any{
		"summary": replay.Summarize(results, final),
		"stored":  stored.Traits.Map(),
		"rebuilt": final.Traits.Map(),
		"drift":   drift,
	}
	if withEvents {
		out["events"] = results
	}
	printJSON(out)
	if !drift.Match {
		return errDrift
	}
	return nil
}

// runFixtureReplay fails when any fixture expectation does not hold.
func runFixtureReplay(path string) error {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return fmt.Errorf("fixture: %w", err)
	}
	start, err := f.StartProfile("fixture")
	if err != nil {
		return fmt.Errorf("fixture: %w", err)
	}
	events, err := f.ToEvents("fixture")
	if err != nil {
		return fmt.Errorf("fixture: %w", err)
	}

	results, final := replay.Replay(start, events, f.ToSchedule())
	failures := replay.Check(f, results, final)

	fmt.Printf("%s\n", f.Description)
	for _, r := range results {
		fmt.Printf("  #%-3d %-8s %-7s rate=%.4f delta=%.4f\n", r.Seq, r.Outcome, r.Action, r.UpdateMetrics.LearningRate, r.UpdateMetrics.DeltaNorm)
	}
	if len(failures) == 0 {
		fmt.Println("PASS")
		return nil
	}
	for _, msg := range failures {
		fmt.Printf("  FAIL %s\n", msg)
	}
	return fmt.Errorf("%d fixture expectations failed", len(failures))
}
