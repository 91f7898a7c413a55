package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show feedback, comparison and model counts for a user",
		RunE:  runStats,
	}
	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	st, err := app.Engine.TrainingStats(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printJSON(st)
	return nil
}
