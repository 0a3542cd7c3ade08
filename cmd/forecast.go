package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roster/api/forecasts"
	"github.com/kilianp07/roster/app"
)

var (
	ingestSource string
	ingestWeek   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Normalize a forecast file and store it as a forecast version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, err := forecasts.ParseWeekAnchor(ingestWeek)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read forecast: %w", err)
		}
		source := ingestSource
		if source == "" {
			source = filepath.Base(args[0])
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			f, err := svc.Manager.Ingest(ctx, source, string(b), anchor)
			if err != nil {
				return err
			}
			return printJSON(cmd, f)
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <old-forecast-id> <new-forecast-id>",
	Short: "Compare two forecast versions tour by tour",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			recs, err := svc.Manager.Diff(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestWeek, "week", "", "Monday of the planned week (2006-01-02)")
	rootCmd.AddCommand(ingestCmd, diffCmd)
}
