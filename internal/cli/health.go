package cli

import (
	"github.com/spf13/cobra"
)

var healthTop int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check RPC connectivity and print the best supply rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context(), healthTop)
	},
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List supported networks and tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Networks()
	},
}

func init() {
	healthCmd.Flags().IntVar(&healthTop, "top", 0, "Number of reserves to list (defaults to aave.top_n)")
}
