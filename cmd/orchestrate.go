package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opendevdata/harvester/internal/app"
	"github.com/opendevdata/harvester/internal/config"
	"github.com/opendevdata/harvester/internal/orchestrator"
)

// newOrchestrateCmd creates the 'orchestrate' subcommand, which runs one
// full harvest cycle and blocks until it drains or times out.
func newOrchestrateCmd() *cobra.Command {
	var (
		restrictTo   []string
		forceRestart bool
	)

	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Runs one harvest cycle",
		Long: `Opens (or resumes) today's job, enqueues the starter task for each
requested source, and waits until every task reaches a terminal state.

Requires POLLING_INTERVAL_IN_MINUTES and MAX_WAIT_IN_MINUTES in the
environment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrchestrate(cmd, restrictTo, forceRestart)
		},
	}

	cmd.Flags().StringSliceVar(&restrictTo, "restrict-to", nil, "limit the cycle to these sources (default: all)")
	cmd.Flags().BoolVar(&forceRestart, "force-restart", false, "reset completed tasks too when resuming today's job")

	return cmd
}

func runOrchestrate(cmd *cobra.Command, restrictTo []string, forceRestart bool) error {
	pollInterval, err := requiredMinutesEnv("POLLING_INTERVAL_IN_MINUTES")
	if err != nil {
		return err
	}
	maxWait, err := requiredMinutesEnv("MAX_WAIT_IN_MINUTES")
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	o := orchestrator.New(
		services.DB,
		services.Queue,
		services.Registry,
		services.Clock,
		services.Logger,
		pollInterval,
		maxWait,
	)

	if err := o.Run(ctx, restrictTo, forceRestart); err != nil {
		services.Logger.Error("harvest cycle failed", zap.Error(err))
		return err
	}
	return nil
}

// requiredMinutesEnv reads a positive integer minute count from the
// environment.
func requiredMinutesEnv(name string) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, fmt.Errorf("%s must be set", name)
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return time.Duration(minutes) * time.Minute, nil
}
