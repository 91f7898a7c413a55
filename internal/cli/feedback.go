package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/preference-engine/internal/engine"
	"github.com/danielpatrickdp/preference-engine/internal/state"
	"github.com/danielpatrickdp/preference-engine/internal/trait"
)

func init() {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record one helped / did-not-help verdict",
		Long:  "Record feedback for a response generated with --trait values (unset traits are 0.5). Retraining runs before the command exits.",
		RunE:  runFeedback,
	}
	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("outcome", "o", "", "positive|negative (also helped|did_not_help) (required)")
	cmd.Flags().String("prompt", "", "Prompt the response answered")
	cmd.Flags().String("response", "", "Response text (required)")
	cmd.Flags().StringSlice("trait", nil, "Trait used for the response, name=value (repeatable)")
	cmd.Flags().String("preset", "", "Preset the response was generated with")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("outcome")
	cmd.MarkFlagRequired("response")
	RootCmd.AddCommand(cmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	outcomeStr, _ := cmd.Flags().GetString("outcome")
	prompt, _ := cmd.Flags().GetString("prompt")
	response, _ := cmd.Flags().GetString("response")
	traits, _ := cmd.Flags().GetStringSlice("trait")
	preset, _ := cmd.Flags().GetString("preset")

	outcome, err := state.ParseOutcome(outcomeStr)
	if err != nil {
		return fmt.Errorf("outcome: %w", err)
	}
	used, err := parseTraits(preset, traits)
	if err != nil {
		return fmt.Errorf("traits: %w", err)
	}

	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer closeApp(app)

	receipt, err := app.Engine.SubmitFeedback(cmd.Context(), user, engine.Feedback{
		Prompt:      prompt,
		Response:    response,
		ProfileUsed: used,
		Outcome:     outcome,
	})
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	printJSON(map[string]any{
		"seq":      receipt.Event.Seq,
		"decision": receipt.Decision,
		"traits":   receipt.Profile.Traits.Map(),
		"retrain":  receipt.Retrain,
	})
	return nil
}

// parseTraits starts from the preset (or the midpoint) and applies name=value overrides.
func parseTraits(preset string, pairs []string) (trait.Vector, error) {
	v := trait.Default()
	if preset != "" {
		p, ok := trait.Presets[preset]
		if !ok {
			return trait.Vector{}, fmt.Errorf("unknown preset %q", preset)
		}
		v = p
	}
	m := make(map[string]float64, len(pairs))
	for _, kv := range pairs {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return trait.Vector{}, fmt.Errorf("trait %q: want name=value", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return trait.Vector{}, fmt.Errorf("trait %q: %w", kv, err)
		}
		m[name] = f
	}
	overrides, err := trait.FromMap(m)
	if err != nil {
		return trait.Vector{}, err
	}
	for name := range m {
		t, _ := trait.Parse(name)
		v = v.With(t, overrides.Get(t))
	}
	return v, nil
}
