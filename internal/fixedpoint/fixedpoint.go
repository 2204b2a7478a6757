// Package fixedpoint converts Aave ray and token wei integers into decimal fractions.
package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// RayExponent is the base-10 exponent of one ray (10^27).
	RayExponent int32 = 27
	// DefaultDecimals applies to tokens whose decimals are unknown.
	DefaultDecimals int32 = 18
)

// MaxAPY caps any converted rate. Aave reserve rates above 100% are treated as decoding noise.
var MaxAPY = decimal.NewFromInt(1)

// RateKind names the rate being converted. It only affects log context.
type RateKind string

const (
	SupplyRate         RateKind = "supply"
	VariableBorrowRate RateKind = "variable_borrow"
	StableBorrowRate   RateKind = "stable_borrow"
)

// RateCalculationError is returned when a raw ray value cannot be parsed.
type RateCalculationError struct {
	Raw  string
	Kind RateKind
	Err  error
}

func (e *RateCalculationError) Error() string {
	return fmt.Sprintf("[RATE_CALCULATION_ERROR] invalid %s rate %q: %v", e.Kind, e.Raw, e.Err)
}

func (e *RateCalculationError) Unwrap() error { return e.Err }

// Code returns the numeric error code used in logs and exit reporting.
func (e *RateCalculationError) Code() int { return 1005 }

// Converter performs lenient fixed-point conversions. Out-of-range inputs are clamped and
// logged rather than failing the surrounding read.
type Converter struct {
	logger zerolog.Logger
}

// NewConverter builds a Converter that reports clamped values through logger.
func NewConverter(logger zerolog.Logger) *Converter {
	return &Converter{logger: logger.With().Str("component", "fixedpoint").Logger()}
}

// ParseRay converts a decimal string holding a ray integer into an APY fraction.
func (c *Converter) ParseRay(raw string, kind RateKind) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return decimal.Zero, nil
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &RateCalculationError{Raw: raw, Kind: kind, Err: err}
	}
	return c.clampRate(value.Shift(-RayExponent), kind), nil
}

// RayToAPY converts an already decoded ray integer. It never fails; nil reads as zero.
func (c *Converter) RayToAPY(ray *big.Int, kind RateKind) decimal.Decimal {
	if ray == nil || ray.Sign() == 0 {
		return decimal.Zero
	}
	return c.clampRate(decimal.NewFromBigInt(ray, -RayExponent), kind)
}

func (c *Converter) clampRate(apy decimal.Decimal, kind RateKind) decimal.Decimal {
	if apy.IsNegative() {
		c.logger.Warn().Str("kind", string(kind)).Str("apy", apy.String()).Msg("negative rate clamped to zero")
		return decimal.Zero
	}
	if apy.GreaterThan(MaxAPY) {
		c.logger.Warn().Str("kind", string(kind)).Str("apy", apy.String()).Msg("rate above maximum clamped")
		return MaxAPY
	}
	return apy
}

// WeiToToken scales a raw token amount by its decimals. Malformed input reads as zero.
func (c *Converter) WeiToToken(raw string, decimals int32) decimal.Decimal {
	amount, ok := c.parseAmount(raw, "amount")
	if !ok || amount.IsZero() {
		return decimal.Zero
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	return amount.Shift(-decimals)
}

// Utilization returns (totalSupply - available) / totalSupply clamped to [0, 1].
func (c *Converter) Utilization(totalSupply, available string) decimal.Decimal {
	supply, ok := c.parseAmount(totalSupply, "total_supply")
	if !ok || !supply.IsPositive() {
		return decimal.Zero
	}
	avail, ok := c.parseAmount(available, "available_liquidity")
	if !ok {
		return decimal.Zero
	}

	borrowed := supply.Sub(avail)
	if !borrowed.IsPositive() {
		return decimal.Zero
	}

	ratio := borrowed.Div(supply)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return ratio
}

func (c *Converter) parseAmount(raw, field string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, true
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("field", field).Str("raw", raw).Msg("malformed amount treated as zero")
		return decimal.Zero, false
	}
	return value, true
}

// APYToPercentage renders an APY fraction as a percentage float for display.
func APYToPercentage(apy decimal.Decimal) float64 {
	pct := apy.Mul(decimal.NewFromInt(100)).InexactFloat64()
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0
	}
	return pct
}
