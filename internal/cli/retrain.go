package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
)

func init() {
	retrainCmd := &cobra.Command{
		Use:   "retrain",
		Short: "Materialize pending feedback and retrain a user's reward model now",
		Long:  "Bypasses the batch policy. The minimum feedback count still applies; lower it with --min.",
		RunE:  runRetrain,
	}
	retrainCmd.Flags().StringP("user", "u", "", "User ID (required)")
	retrainCmd.Flags().Int("min", 0, "Minimum feedback events required (default: $PREFENGINE_MIN_FEEDBACK)")
	retrainCmd.MarkFlagRequired("user")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the batch policy once for every user",
		RunE:  runSweep,
	}

	RootCmd.AddCommand(retrainCmd, sweepCmd)
}

func runRetrain(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	minFeedback, _ := cmd.Flags().GetInt("min")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if minFeedback > 0 {
		cfg.MinFeedback = minFeedback
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	app, err := openAppWith(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeApp(app)

	res := app.Engine.RetrainNow(cmd.Context(), user)
	printJSON(res)
	if res.Status == orchestrator.StatusError {
		return fmt.Errorf("retrain: %w", errors.New(res.Detail))
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	results, err := app.Orchestrator.Sweep(cmd.Context(), app.Store)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	users := make([]string, 0, len(results))
	for u := range results {
		users = append(users, u)
	}
	sort.Strings(users)
	out := make([]orchestrator.Result, 0, len(users))
	for _, u := range users {
		out = append(out, results[u])
	}
	printJSON(out)
	return nil
}
