package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/preference-engine/internal/trait"
	"github.com/danielpatrickdp/preference-engine/internal/update"
)

func init() {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show a user's current trait profile",
		RunE:  runProfile,
	}
	profileCmd.Flags().StringP("user", "u", "", "User ID (required)")
	profileCmd.Flags().Bool("text", false, "Print a table instead of JSON")
	profileCmd.MarkFlagRequired("user")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a user's profile and discard their feedback, pairs and model",
		RunE:  runReset,
	}
	resetCmd.Flags().StringP("user", "u", "", "User ID (required)")
	resetCmd.MarkFlagRequired("user")

	RootCmd.AddCommand(profileCmd, resetCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	text, _ := cmd.Flags().GetBool("text")

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	p, err := app.Engine.CurrentProfile(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	sched := app.Engine.Schedule()

	if !text {
		printJSON(map[string]any{
			"user_id":            p.UserID,
			"traits":             p.Traits.Map(),
			"feedback_count":     p.FeedbackCount,
			"last_learning_rate": p.LastLearningRate,
			"next_learning_rate": sched.Rate(p.FeedbackCount),
			"phase":              update.Phase(p.FeedbackCount),
			"last_updated":       p.LastUpdated,
		})
		return nil
	}

	fmt.Printf("User:      %s\n", p.UserID)
	fmt.Printf("Feedback:  %d (%s, next rate %.3f)\n\n", p.FeedbackCount, update.Phase(p.FeedbackCount), sched.Rate(p.FeedbackCount))
	for _, t := range trait.All {
		v := p.Traits.Get(t)
		fmt.Printf("%-18s %.3f  %s\n", t, v, bar(v, 20))
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	p, err := app.Engine.ResetProfile(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	printJSON(map[string]any{"user_id": p.UserID, "traits": p.Traits.Map(), "feedback_count": p.FeedbackCount})
	return nil
}

func bar(v float64, width int) string {
	n := int(v*float64(width) + 0.5)
	out := make([]byte, width)
	for i := range out {
		if i < n {
			out[i] = '#'
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
