package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/preference-engine/internal/logging"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show recent retrain decisions",
		RunE:  runInspect,
	}
	cmd.Flags().StringP("user", "u", "", "Only this user")
	cmd.Flags().Int("last", 20, "Show N most recent decisions (0 for all)")
	cmd.Flags().Bool("json", false, "Output as JSON instead of a table")
	RootCmd.AddCommand(cmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	last, _ := cmd.Flags().GetInt("last")
	jsonOut, _ := cmd.Flags().GetBool("json")

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	entries, err := logging.ListDecisions(cmd.Context(), app.Store.DB(), user, last)
	if err != nil {
		return fmt.Errorf("list decisions: %w", err)
	}
	if jsonOut {
		printJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		fmt.Println("no retrain decisions found")
		return nil
	}

	fmt.Printf("%-20s  %-12s  %-8s  %-18s  %5s  %5s  %5s  %-8s  %s\n",
		"Time", "User", "Trigger", "Status", "New", "Total", "Pairs", "Training", "Reason")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		training := e.TrainingStatus
		if training == "" {
			training = "-"
		}
		fmt.Printf("%-20s  %-12s  %-8s  %-18s  %5d  %5d  %5d  %-8s  %s\n",
			e.CreatedAt.Format("2006-01-02T15:04:05Z"), short(e.UserID, 12), e.Trigger, e.Status,
			e.NewFeedback, e.TotalFeedback, e.NewPairs, training, e.Reason)
	}
	return nil
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
