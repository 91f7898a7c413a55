package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/preference-engine/internal/httpapi"
	"github.com/danielpatrickdp/preference-engine/internal/orchestrator"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default: $PREFENGINE_HTTP_ADDR or :8080)")
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(app)
	logger := app.Logger

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = app.Config.HTTPAddr
	}

	if app.Config.SweepSpec != "" {
		sweeper, err := orchestrator.NewSweeper(app.Orchestrator, app.Store, app.Config.SweepSpec, logger)
		if err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewPreferenceHandler(logger, app.Engine, app.Generator)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(logger, handler, app.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", addr),
			zap.String("db", app.Config.DBPath),
			zap.String("embedder", app.Embedder.ID()),
			zap.String("generator", app.Config.Generator),
		)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
	return nil
}
