package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/storage"
)

const defaultExportWindow = 90 * 24 * time.Hour

// Export renders one token's archived rates as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	outputs := exportOutputs(opts)
	if len(outputs) == 0 {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if !aave.IsKnownToken(opts.Token) {
		return fmt.Errorf("unknown token %q", opts.Token)
	}
	from, to, err := exportWindow(opts, time.Now().UTC())
	if err != nil {
		return err
	}
	maxPoints := a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	network := a.Config.Aave.Network
	rows, err := store.ListReservesBetween(ctx, network, opts.Token, from, to, maxPoints*10)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("network", network).Str("token", opts.Token).Time("from", from).Time("to", to).Msg("no snapshots found for export window")
		return nil
	}

	rows = downsampleRows(rows, maxPoints)
	for _, out := range outputs {
		if err := out.write(out.path, opts.Token, rows); err != nil {
			return fmt.Errorf("write %s: %w", out.path, err)
		}
		a.Logger.Info().Str("path", out.path).Int("rows", len(rows)).Msg("export written")
	}
	return nil
}

type exportOutput struct {
	path  string
	write func(path, token string, rows []storage.ReserveSnapshot) error
}

func exportOutputs(opts ExportOptions) []exportOutput {
	var outputs []exportOutput
	if opts.CSVPath != "" {
		outputs = append(outputs, exportOutput{path: opts.CSVPath, write: func(path, _ string, rows []storage.ReserveSnapshot) error {
			return writeRowsCSV(path, rows)
		}})
	}
	if opts.PNGPath != "" {
		outputs = append(outputs, exportOutput{path: opts.PNGPath, write: writeRowsPNG})
	}
	return outputs
}

func exportWindow(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleRows(rows []storage.ReserveSnapshot, max int) []storage.ReserveSnapshot {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]storage.ReserveSnapshot, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

var csvHeader = []string{"fetched_at", "network", "token", "supply_apy", "borrow_apy", "utilization", "liquidity"}

func csvRecord(row storage.ReserveSnapshot) []string {
	return []string{
		row.FetchedAt.UTC().Format(time.RFC3339),
		row.Network,
		row.Token,
		row.SupplyAPY.String(),
		row.BorrowAPY.String(),
		row.Utilization.String(),
		row.Liquidity.String(),
	}
}

func writeRowsCSV(path string, rows []storage.ReserveSnapshot) error {
	file, err := createFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(csvRecord(row)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeRowsPNG(path, token string, rows []storage.ReserveSnapshot) error {
	if len(rows) < 2 {
		return errors.New("at least two snapshots are needed to draw a chart")
	}
	x := make([]time.Time, len(rows))
	supply := make([]float64, len(rows))
	borrow := make([]float64, len(rows))
	utilization := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.FetchedAt
		supply[i] = row.SupplyPercent()
		borrow[i] = row.BorrowPercent()
		utilization[i] = row.Utilization.Shift(2).InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f%%")
	}
	graph := chart.Chart{
		Title:  token + " rates",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "APY (%)",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Utilization (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Supply APY",
				XValues: x,
				YValues: supply,
			},
			chart.TimeSeries{
				Name:    "Borrow APY",
				XValues: x,
				YValues: borrow,
			},
			chart.TimeSeries{
				Name:    "Utilization",
				XValues: x,
				YValues: utilization,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := createFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// createFile creates path, making missing parent directories.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}
