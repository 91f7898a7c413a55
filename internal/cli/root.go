// Package cli implements the prefengine commands.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/config"
	"github.com/danielpatrickdp/preference-engine/internal/logging"
)

var (
	dbPath   string
	envFile  string
	logLevel string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "prefengine",
	Short: "Online preference learning engine",
	Long:  "Learns a five-trait style profile and a pairwise reward model per user from helped / did-not-help feedback.",
	// Runtime failures are not usage mistakes.
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $PREFENGINE_DB or preference_engine.db)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file to load before reading the environment")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (default: $PREFENGINE_LOG_LEVEL or info)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openApp loads config and wires the app. Commands other than serve run
// retrains synchronously so results are visible on exit.
func openApp(cmd *cobra.Command, sync bool) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if sync {
		cfg.SyncRetrain = true
	}
	return openAppWith(cmd, cfg)
}

func openAppWith(cmd *cobra.Command, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	app, err := NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("init: %w", err)
	}
	return app, nil
}

func closeApp(app *App) {
	if err := app.Close(); err != nil {
		app.Logger.Warn("close", zap.Error(err))
	}
	app.Logger.Sync()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
