package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/report"
)

// resultPeriod reads --as-of for result queries. Empty means the latest
// committed run, not the most recently closed period.
func resultPeriod(cmd *cobra.Command) (model.Period, error) {
	raw, _ := cmd.Flags().GetString("as-of")
	if raw == "" {
		return model.Period{}, nil
	}
	return parseAsOf(raw, time.Now())
}

var estimatesCmd = &cobra.Command{
	Use:   "estimates",
	Short: "Show committed reserve estimates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf, err := resultPeriod(cmd)
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")
		showFactors, _ := cmd.Flags().GetBool("factors")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ests, err := st.GetReserveEstimates(ctx, asOf, category)
		if err != nil {
			return eris.Wrap(err, "estimates")
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, ests)
		}
		if len(ests) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No estimates found.")
			return nil
		}
		report.Estimates(out, ests)
		if showFactors {
			for _, e := range ests {
				if len(e.Factors) == 0 {
					continue
				}
				_, _ = fmt.Fprintf(out, "\n%s development factors\n", e.Category)
				report.Factors(out, e.Factors)
			}
		}
		return nil
	},
}

var fundingCmd = &cobra.Command{
	Use:   "funding",
	Short: "Show funding status against committed reserves",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		asOf, err := resultPeriod(cmd)
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fs, err := st.GetFundingStatus(ctx, asOf, category)
		if err != nil {
			return eris.Wrap(err, "funding")
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), fs)
		}
		if len(fs) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No funding rows found.")
			return nil
		}
		report.Funding(cmd.OutOrStdout(), fs)
		return nil
	},
}

var triangleCmd = &cobra.Command{
	Use:   "triangle <category>",
	Short: "Show the loss triangle from the latest committed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tri, err := st.GetTriangle(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "triangle %s", args[0])
		}

		if xlsxPath != "" {
			wb, err := report.TriangleWorkbook(tri)
			if err != nil {
				return err
			}
			if err := report.Save(xlsxPath, wb); err != nil {
				return err
			}
			zap.L().Info("triangle exported", zap.String("category", tri.Category), zap.String("path", xlsxPath))
			return nil
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), tri)
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s cumulative paid, evaluated %s\n", tri.Category, tri.AsOf)
		report.Triangle(cmd.OutOrStdout(), tri)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{estimatesCmd, fundingCmd} {
		c.Flags().String("as-of", "", "evaluation period (default: latest committed run)")
		c.Flags().String("category", "", "filter by category")
		c.Flags().Bool("json", false, "print as JSON")
	}
	estimatesCmd.Flags().Bool("factors", false, "also print development factors")

	triangleCmd.Flags().String("xlsx", "", "write the triangle to this Excel workbook instead of printing it")
	triangleCmd.Flags().Bool("json", false, "print as JSON")

	rootCmd.AddCommand(estimatesCmd)
	rootCmd.AddCommand(fundingCmd)
	rootCmd.AddCommand(triangleCmd)
}
