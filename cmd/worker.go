package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/jobs"
	"github.com/sells-group/ibnr-engine/internal/monitoring"
	"github.com/sells-group/ibnr-engine/internal/reserve"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued recalculations from Temporal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jc, err := jobs.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer jc.Close()

		acts := jobs.NewActivities(reserve.NewEngine(st, cfg), monitoring.NewAlerter(cfg.Monitoring))
		w := jobs.NewWorker(jc.Temporal(), cfg.Temporal.TaskQueue, acts)
		if err := w.Start(); err != nil {
			return eris.Wrap(err, "worker start")
		}
		zap.L().Info("worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))

		<-ctx.Done()
		zap.L().Info("stopping worker")
		w.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
