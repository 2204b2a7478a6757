package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/digest"
)

// Preview 渲染消息但不发送。
func (a *App) Preview(ctx context.Context) error {
	builder := digest.NewBuilder(a.Config.Digest.Message, a.Logger)
	closeClient := a.addMarket(ctx, builder, nil, nil)
	defer closeClient()

	_, err := fmt.Fprintln(a.Out, builder.Build(ctx))
	return err
}

// Health checks the configured network and prints the best supply rates. top <= 0 uses
// aave.top_n.
func (a *App) Health(ctx context.Context, top int) error {
	client, err := a.newAaveClient(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	profile := client.Profile()
	if !client.HealthCheck(ctx) {
		return fmt.Errorf("health check failed for %s", profile.DisplayName)
	}
	fmt.Fprintf(a.Out, "✅ AAVE %s (chain %d) healthy\n", profile.DisplayName, profile.ChainID)

	if top <= 0 {
		top = a.Config.Aave.TopN
	}
	if top <= 0 {
		return nil
	}

	snapshot, err := client.FetchMarket(ctx, nil)
	if err != nil {
		return err
	}
	writeRates(a.Out, snapshot.TopSupplyRates(top))
	return nil
}

func writeRates(w io.Writer, reserves []aave.ReserveMetrics) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Token\tSupply%\tBorrow%\tUtilization%")
	for _, r := range reserves {
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%.1f\n", r.Symbol, r.SupplyPercent(), r.BorrowPercent(), r.UtilizationPercent())
	}
	writer.Flush()
}

// Networks lists the registry's networks and tokens.
func (a *App) Networks() error {
	reg, err := aave.LoadRegistry(a.Config.Aave.RegistryFile)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Network\tName\tChain\tVersion\tTokens")
	for _, name := range reg.Networks() {
		profile, err := reg.Profile(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			profile.Name,
			profile.DisplayName,
			profile.ChainID,
			profile.Version,
			strings.Join(profile.Symbols(), ","),
		)
	}
	return writer.Flush()
}
