package cli

import (
	"github.com/spf13/cobra"

	"wealthwatcher/internal/app"
)

var showSnapshotLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print holdings and recent net-worth snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{SnapshotLimit: showSnapshotLimit})
	},
}

func init() {
	showCmd.Flags().IntVar(&showSnapshotLimit, "limit", 20, "Number of recent snapshots to print")
}
