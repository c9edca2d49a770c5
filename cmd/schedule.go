package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/monitoring"
	"github.com/sells-group/ibnr-engine/internal/reserve"
	"github.com/sells-group/ibnr-engine/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the monthly-close recalculation on the configured cron schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		runNow, _ := cmd.Flags().GetBool("run-now")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := reserve.NewEngine(st, cfg)
		alerter := monitoring.NewAlerter(cfg.Monitoring)

		sched, err := scheduler.New(cfg.Schedule, configuredGrain(), scheduledRun(engine, alerter))
		if err != nil {
			return err
		}

		if runNow {
			if err := sched.RunNow(ctx); err != nil {
				zap.L().Error("immediate run failed", zap.Error(err))
			}
		}

		sched.Start(ctx)
		zap.L().Info("scheduler started",
			zap.String("cron", cfg.Schedule.Cron),
			zap.Time("next", sched.Next()),
		)
		<-ctx.Done()
		sched.Stop()
		return nil
	},
}

// scheduledRun recalculates and alerts. A run where every category was
// excluded is reported but does not stop the schedule.
func scheduledRun(engine *reserve.Engine, alerter *monitoring.Alerter) scheduler.RunFunc {
	return func(ctx context.Context, asOf model.Period) error {
		res, err := engine.Recalculate(ctx, reserve.RunRequest{AsOf: asOf})
		if res != nil && res.Run != nil {
			alerter.NotifyRun(ctx, res.Run)
		}
		var noEst *reserve.NoEstimatesError
		if errors.As(err, &noEst) {
			zap.L().Warn("scheduled run produced no estimates", zap.Stringer("as_of", asOf), zap.Error(err))
			return nil
		}
		return eris.Wrapf(err, "scheduled run %s", asOf)
	}
}

func init() {
	scheduleCmd.Flags().Bool("run-now", false, "also run once for the most recently closed period at startup")
	rootCmd.AddCommand(scheduleCmd)
}
