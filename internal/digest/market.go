package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"aave-rate-digest/internal/aave"
)

// MarketSource supplies the snapshot rendered by Market. *aave.Client implements it.
type MarketSource interface {
	FetchMarket(ctx context.Context, tokens []string) (*aave.MarketSnapshot, error)
	Profile() *aave.NetworkProfile
}

// Market renders one card per requested token. Tokens that failed to load get a card of N/A
// values; if nothing loads the section reports the error inline.
type Market struct {
	Source     MarketSource
	Tokens     []string
	Title      string
	Now        func() time.Time
	OnSnapshot func(ctx context.Context, snapshot *aave.MarketSnapshot)
}

// Name implements Component.
func (m *Market) Name() string { return "aave_market" }

// Render implements Component.
func (m *Market) Render(ctx context.Context) (string, error) {
	if m.Source == nil {
		return "", fmt.Errorf("market source not configured")
	}

	snapshot, err := m.Source.FetchMarket(ctx, m.Tokens)
	if err != nil {
		return fmt.Sprintf("❌ Failed to fetch AAVE market data: %v", err), nil
	}
	if m.OnSnapshot != nil {
		m.OnSnapshot(ctx, snapshot)
	}

	profile := m.Source.Profile()
	tokens := m.Tokens
	if tokens == nil {
		tokens = profile.Symbols()
	}

	title := m.Title
	if title == "" {
		title = fmt.Sprintf("AAVE %s Market", profile.DisplayName)
	}

	printer := message.NewPrinter(language.English)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏦 *%s*\n\n", title)

	for _, token := range tokens {
		reserve, ok := snapshot.Reserve(token)
		if !ok {
			reserve = aave.ReserveMetrics{Symbol: token}
		}
		writeCard(&sb, printer, reserve)
	}

	sb.WriteString("\n")
	if profile.MarketsURL != "" {
		sb.WriteString("🔗 *View Full Markets*\n")
		fmt.Fprintf(&sb, "👉 [AAVE %s Markets](%s)\n\n", profile.DisplayName, profile.MarketsURL)
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	fmt.Fprintf(&sb, "⏰ Updated: %s", now().UTC().Format("15:04 UTC"))
	return sb.String(), nil
}

func writeCard(sb *strings.Builder, printer *message.Printer, r aave.ReserveMetrics) {
	fmt.Fprintf(sb, "💰 *%s*\n", r.Symbol)
	fmt.Fprintf(sb, "├ 📈 Supply: `%s`\n", formatPercent(r.SupplyPercent(), 2))
	fmt.Fprintf(sb, "├ 📉 Borrow: `%s`\n", formatPercent(r.BorrowPercent(), 2))
	fmt.Fprintf(sb, "├ 📊 Utilization: `%s`\n", formatPercent(r.UtilizationPercent(), 1))
	fmt.Fprintf(sb, "└ 💧 Liquidity: `%s`\n\n", formatLiquidity(printer, r.Liquidity.InexactFloat64()))
}

func formatLiquidity(printer *message.Printer, v float64) string {
	switch {
	case v > 1000:
		return printer.Sprintf("%.0f", v)
	case v > 0:
		return fmt.Sprintf("%.2f", v)
	default:
		return "N/A"
	}
}
