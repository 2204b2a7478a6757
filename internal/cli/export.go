package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aave-rate-digest/internal/app"
)

var exportFlags struct {
	token     string
	from      string
	to        string
	png       string
	csv       string
	maxPoints int
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export archived rates of one token as CSV and/or PNG chart",
	Example: "  aavedigest export --token USDC --from 2025-01-01 --csv usdc.csv --png usdc.png",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimeFlag("from", exportFlags.from)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", exportFlags.to)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Token:     exportFlags.token,
			From:      from,
			To:        to,
			PNGPath:   exportFlags.png,
			CSVPath:   exportFlags.csv,
			MaxPoints: exportFlags.maxPoints,
		})
	},
}

// parseTimeFlag accepts RFC3339 timestamps or plain dates (midnight UTC). Empty means unset.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.token, "token", "ETH", "Token symbol to export")
	f.StringVar(&exportFlags.from, "from", "", "Start of the window, inclusive (defaults to 90 days before --to)")
	f.StringVar(&exportFlags.to, "to", "", "End of the window, exclusive (defaults to now)")
	f.StringVar(&exportFlags.png, "png", "", "Write a rate chart to this PNG file")
	f.StringVar(&exportFlags.csv, "csv", "", "Write rows to this CSV file")
	f.IntVar(&exportFlags.maxPoints, "max-points", 0, "Downsample to at most this many rows (defaults to export.max_data_points)")
}
