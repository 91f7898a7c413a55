package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "score [text]",
		Short: "Score a response, or rank several with --candidate",
		Long:  "Score text with the user's reward model. Without a model the score is min(1, words/200). Text can be a positional arg or piped via stdin.",
		RunE:  runScore,
	}
	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringArrayP("candidate", "c", nil, "Candidate response to rank (repeatable)")
	cmd.MarkFlagRequired("user")
	RootCmd.AddCommand(cmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	candidates, _ := cmd.Flags().GetStringArray("candidate")

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	if len(candidates) > 0 {
		printJSON(app.Engine.Rank(cmd.Context(), user, candidates))
		return nil
	}

	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(b)
		}
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("score: text is required (positional arg or stdin)")
	}
	printJSON(app.Engine.Evaluate(cmd.Context(), user, text))
	return nil
}
