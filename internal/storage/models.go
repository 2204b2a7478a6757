package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/fixedpoint"
)

// ReserveSnapshot is one archived reserve row. APYs and utilization are fractions.
type ReserveSnapshot struct {
	ID          int64
	FetchedAt   time.Time
	Network     string
	Token       string
	SupplyAPY   decimal.Decimal
	BorrowAPY   decimal.Decimal
	Utilization decimal.Decimal
	Liquidity   decimal.Decimal
	LastUpdated *time.Time
	CreatedAt   time.Time
}

// SupplyPercent is SupplyAPY in percent.
func (r ReserveSnapshot) SupplyPercent() float64 {
	return fixedpoint.APYToPercentage(r.SupplyAPY)
}

// BorrowPercent is BorrowAPY in percent.
func (r ReserveSnapshot) BorrowPercent() float64 {
	return fixedpoint.APYToPercentage(r.BorrowAPY)
}

// SnapshotRows flattens a market snapshot into archive rows. Failed tokens produce no row.
func SnapshotRows(snapshot *aave.MarketSnapshot) []ReserveSnapshot {
	if snapshot == nil {
		return nil
	}
	fetchedAt := snapshot.FetchedAt.UTC()
	rows := make([]ReserveSnapshot, 0, len(snapshot.Reserves))
	for _, r := range snapshot.Reserves {
		row := ReserveSnapshot{
			FetchedAt:   fetchedAt,
			Network:     snapshot.Network,
			Token:       r.Symbol,
			SupplyAPY:   r.SupplyAPY,
			BorrowAPY:   r.BorrowAPY,
			Utilization: r.Utilization,
			Liquidity:   r.Liquidity,
		}
		if !r.LastUpdated.IsZero() {
			ts := r.LastUpdated.UTC()
			row.LastUpdated = &ts
		}
		rows = append(rows, row)
	}
	return rows
}
