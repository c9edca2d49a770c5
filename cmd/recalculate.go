package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/monitoring"
	"github.com/sells-group/ibnr-engine/internal/report"
	"github.com/sells-group/ibnr-engine/internal/reserve"
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Run a reserving recalculation for one evaluation period",
	Long:  "Builds triangles, selects a method per category, estimates IBNR, analyzes funding and commits the run atomically.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("recalculate"); err != nil {
			return err
		}

		asOfRaw, _ := cmd.Flags().GetString("as-of")
		snapRaw, _ := cmd.Flags().GetString("snapshot")
		categories, _ := cmd.Flags().GetStringSlice("category")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		asOf, err := parseAsOf(asOfRaw, time.Now())
		if err != nil {
			return err
		}
		snapshot, err := parseSnapshot(snapRaw)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := reserve.NewEngine(st, cfg)
		res, runErr := engine.Recalculate(ctx, reserve.RunRequest{
			AsOf:       asOf,
			SnapshotAt: snapshot,
			Categories: categories,
			DryRun:     dryRun,
		})
		if res == nil || res.Run == nil {
			return eris.Wrap(runErr, "recalculate")
		}

		if !dryRun {
			sent := monitoring.NewAlerter(cfg.Monitoring).NotifyRun(ctx, res.Run)
			zap.L().Debug("run alerts delivered", zap.Int("sent", sent))
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := writeJSON(out, res); err != nil {
				return err
			}
		} else {
			if dryRun {
				_, _ = fmt.Fprintln(out, "Dry run: nothing was committed.")
			}
			report.RunSummary(out, res.Run)
			if len(res.Run.Estimates) > 0 {
				_, _ = fmt.Fprintln(out)
				report.Estimates(out, res.Run.Estimates)
			}
			if len(res.Run.Funding) > 0 {
				_, _ = fmt.Fprintln(out)
				report.Funding(out, res.Run.Funding)
			}
		}

		if xlsxPath != "" && runErr == nil {
			wb, err := report.Workbook(res.Run)
			if err != nil {
				return err
			}
			if err := report.Save(xlsxPath, wb); err != nil {
				return err
			}
			zap.L().Info("workbook written", zap.String("path", xlsxPath))
		}

		return eris.Wrap(runErr, "recalculate")
	},
}

func init() {
	recalculateCmd.Flags().String("as-of", "", "evaluation period, e.g. 2024-03 or 2024-Q1 (default: most recently closed period)")
	recalculateCmd.Flags().String("snapshot", "", "read the ledger as recorded at this time (RFC 3339); reruns with the same snapshot are identical")
	recalculateCmd.Flags().StringSlice("category", nil, "limit the run to these categories (repeatable)")
	recalculateCmd.Flags().Bool("dry-run", false, "compute without committing")
	recalculateCmd.Flags().Bool("json", false, "print the run as JSON")
	recalculateCmd.Flags().String("xlsx", "", "also write the run to this Excel workbook")
	rootCmd.AddCommand(recalculateCmd)
}
