package aave

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthToken is the reserve read by HealthCheck.
const HealthToken = "ETH"

// FetchMarket reads each token in order. A nil slice means every token on the network.
// Per-token failures are logged and listed in MarketSnapshot.Failed; an error is returned
// only when no token could be read.
func (c *Client) FetchMarket(ctx context.Context, tokens []string) (*MarketSnapshot, error) {
	if tokens == nil {
		tokens = c.SupportedTokens()
	}
	if len(tokens) == 0 {
		return nil, &ConfigurationError{Msg: "no tokens requested for network " + c.profile.Name}
	}

	ctx, span := c.tracer.Start(ctx, "aave.FetchMarket", trace.WithAttributes(
		attribute.String("aave.network", c.profile.Name),
		attribute.StringSlice("aave.tokens", tokens),
	))
	defer span.End()

	snapshot := &MarketSnapshot{
		Network:  c.profile.Name,
		Reserves: make([]ReserveMetrics, 0, len(tokens)),
	}

	var errs []error
	for _, token := range tokens {
		metrics, err := c.FetchReserve(ctx, token)
		if err != nil {
			c.logger.Warn().Err(err).Str("token", token).Msg("reserve fetch failed; skipping token")
			snapshot.Failed = append(snapshot.Failed, token)
			errs = append(errs, err)
			continue
		}
		snapshot.Reserves = append(snapshot.Reserves, metrics)
	}
	snapshot.FetchedAt = c.now().UTC()

	if len(snapshot.Reserves) == 0 {
		return nil, &ContractError{Msg: "no reserve data could be fetched for any token", Err: errors.Join(errs...)}
	}

	c.logger.Info().
		Int("fetched", len(snapshot.Reserves)).
		Strs("failed", snapshot.Failed).
		Msg("market snapshot assembled")
	return snapshot, nil
}

// HealthCheck reports whether the endpoint answers and the reference reserve can be read.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if _, err := c.reader.BlockNumber(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("health check: rpc unreachable")
		return false
	}
	if _, err := c.FetchReserve(ctx, HealthToken); err != nil {
		c.logger.Warn().Err(err).Msg("health check: reserve read failed")
		return false
	}
	return true
}
