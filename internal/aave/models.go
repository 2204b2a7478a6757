package aave

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"aave-rate-digest/internal/fixedpoint"
)

// ReserveMetrics is the converted state of one reserve. APYs and utilization are fractions in [0, 1].
type ReserveMetrics struct {
	Symbol      string
	SupplyAPY   decimal.Decimal
	BorrowAPY   decimal.Decimal
	Liquidity   decimal.Decimal
	Utilization decimal.Decimal
	LastUpdated time.Time
	AToken      string
}

// SupplyPercent is SupplyAPY in percent.
func (m ReserveMetrics) SupplyPercent() float64 { return fixedpoint.APYToPercentage(m.SupplyAPY) }

// BorrowPercent is BorrowAPY in percent.
func (m ReserveMetrics) BorrowPercent() float64 { return fixedpoint.APYToPercentage(m.BorrowAPY) }

// UtilizationPercent is Utilization in percent.
func (m ReserveMetrics) UtilizationPercent() float64 {
	return fixedpoint.APYToPercentage(m.Utilization)
}

// MarketSnapshot is the result of one aggregation pass. Reserves holds successes only, in
// request order; Failed names the tokens that could not be read.
type MarketSnapshot struct {
	Network   string
	Reserves  []ReserveMetrics
	Failed    []string
	FetchedAt time.Time
}

// Reserve looks up a reserve by symbol, ignoring case.
func (s *MarketSnapshot) Reserve(symbol string) (ReserveMetrics, bool) {
	for _, r := range s.Reserves {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return ReserveMetrics{}, false
}

// TopSupplyRates returns up to n reserves ordered by descending supply APY. Ties keep
// snapshot order.
func (s *MarketSnapshot) TopSupplyRates(n int) []ReserveMetrics {
	if n <= 0 {
		return nil
	}
	ranked := slices.Clone(s.Reserves)
	slices.SortStableFunc(ranked, func(a, b ReserveMetrics) int {
		return b.SupplyAPY.Cmp(a.SupplyAPY)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
