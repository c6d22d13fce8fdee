package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wealthwatcher/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNG       string
	exportCSV       string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export net-worth history as CSV and/or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNG,
			CSVPath:   exportCSV,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			opts.From = &from
		}
		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("parse --to: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start (RFC3339)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end (RFC3339)")
	exportCmd.Flags().StringVar(&exportPNG, "png", "", "PNG output path")
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "CSV output path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export")
}
