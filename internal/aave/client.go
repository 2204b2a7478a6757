// Package aave reads Aave v3 reserve state and converts it into market metrics.
package aave

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"aave-rate-digest/internal/address"
	"aave-rate-digest/internal/cache"
	"aave-rate-digest/internal/chain"
	"aave-rate-digest/internal/fixedpoint"
	"aave-rate-digest/internal/retry"
)

const reserveDataOp = "reserve_data"

// Options configure a Client.
type Options struct {
	Network           string
	RPCURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheTTL          time.Duration
	DisableCache      bool
	Retry             retry.Policy
}

// Dialer opens the contract-query connection for a profile.
type Dialer func(ctx context.Context, opts chain.Options, logger zerolog.Logger) (chain.Reader, error)

// Observer receives fetch outcomes, typically to feed metrics.
type Observer interface {
	CacheLookup(network, token string, hit bool)
	ReserveFetched(network, token string, elapsed time.Duration, err error)
	ReserveObserved(network string, m ReserveMetrics)
}

// Option customises a Client.
type Option func(*Client)

// WithDialer replaces the go-ethereum dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the time source used for the cache and snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetryOptions passes options to every retried contract read.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retryOpts = append(c.retryOpts, opts...) }
}

// Client reads one network. It is safe for concurrent use; concurrent misses for the same
// token share one chain read.
type Client struct {
	profile   *NetworkProfile
	pool      common.Address
	reader    chain.Reader
	conv      *fixedpoint.Converter
	cache     *cache.Cache[ReserveMetrics]
	flight    singleflight.Group
	policy    retry.Policy
	retryOpts []retry.Option
	observer  Observer
	dial      Dialer
	now       func() time.Time
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewClient resolves opts.Network in reg, connects to its endpoint, verifies the chain id and
// resolves the pool contract. Any failure is returned without a client.
func NewClient(ctx context.Context, reg *Registry, opts Options, logger zerolog.Logger, options ...Option) (*Client, error) {
	if reg == nil {
		return nil, &ConfigurationError{Msg: "network registry not loaded"}
	}
	profile, err := reg.Profile(opts.Network)
	if err != nil {
		return nil, err
	}
	profile = profile.WithRPCURL(opts.RPCURL)

	c := &Client{
		profile:  profile,
		conv:     fixedpoint.NewConverter(logger),
		policy:   opts.Retry,
		observer: nopObserver{},
		dial:     dialChain,
		now:      time.Now,
		tracer:   otel.Tracer("aave-rate-digest/aave"),
		logger:   logger.With().Str("component", "aave").Str("network", profile.Name).Logger(),
	}
	if c.policy == (retry.Policy{}) {
		c.policy = retry.DefaultPolicy()
	}
	for _, opt := range options {
		opt(c)
	}
	c.retryOpts = append([]retry.Option{retry.WithLogger(c.logger, "getReserveData")}, c.retryOpts...)
	if !opts.DisableCache {
		c.cache = cache.New[ReserveMetrics](opts.CacheTTL, cache.WithClock(c.now))
	}

	reader, err := c.dial(ctx, chain.Options{
		RPCURL:            profile.RPCURL,
		Timeout:           opts.Timeout,
		RequestsPerSecond: opts.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, &NetworkError{Network: profile.Name, Msg: "failed to connect to rpc endpoint", Err: err}
	}
	if err := c.verifyConnection(ctx, reader); err != nil {
		reader.Close()
		return nil, err
	}

	raw, _ := profile.Contract(RolePool)
	pool, err := address.Normalize(raw, "pool")
	if err != nil {
		reader.Close()
		return nil, &ContractError{Msg: "pool contract address is not usable", Err: err}
	}
	c.pool = common.HexToAddress(pool)
	c.reader = reader

	c.logger.Info().Str("pool", pool).Int64("chain_id", profile.ChainID).Msg("aave client ready")
	return c, nil
}

func dialChain(ctx context.Context, opts chain.Options, logger zerolog.Logger) (chain.Reader, error) {
	client, err := chain.Dial(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) verifyConnection(ctx context.Context, reader chain.Reader) error {
	height, err := reader.BlockNumber(ctx)
	if err != nil {
		return &NetworkError{Network: c.profile.Name, Msg: "connection check failed", Err: err}
	}
	id, err := reader.ChainID(ctx)
	if err != nil {
		return &NetworkError{Network: c.profile.Name, Msg: "chain id query failed", Err: err}
	}
	if id == nil || id.Int64() != c.profile.ChainID {
		return &NetworkError{Network: c.profile.Name, Msg: fmt.Sprintf("endpoint reports chain id %v, expected %d", id, c.profile.ChainID)}
	}
	c.logger.Debug().Uint64("block", height).Msg("rpc connection verified")
	return nil
}

// Profile returns the active network profile.
func (c *Client) Profile() *NetworkProfile { return c.profile }

// SupportedTokens lists the symbols readable on the active network.
func (c *Client) SupportedTokens() []string { return c.profile.Symbols() }

// ClearCache drops cached reserve metrics so the next read hits the chain.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.reader != nil {
		c.reader.Close()
	}
}

// FetchReserve returns the converted metrics of one reserve, from cache when fresh.
func (c *Client) FetchReserve(ctx context.Context, token string) (ReserveMetrics, error) {
	key := cacheKey(c.profile.Name, token, reserveDataOp)
	if c.cache != nil {
		cached, ok := c.cache.Get(key)
		c.observer.CacheLookup(c.profile.Name, token, ok)
		if ok {
			c.logger.Debug().Str("token", token).Msg("reserve served from cache")
			return cached, nil
		}
	}

	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		// a flight that finished just before this one may already have filled the entry
		if c.cache != nil {
			if cached, ok := c.cache.Get(key); ok {
				return cached, nil
			}
		}
		return c.readReserve(ctx, token, key)
	})
	if shared {
		c.logger.Debug().Str("token", token).Msg("reserve read shared with concurrent caller")
	}
	if err != nil {
		return ReserveMetrics{}, err
	}
	return v.(ReserveMetrics), nil
}

// readReserve is the cache-miss path: one traced, observed read of the chain.
func (c *Client) readReserve(ctx context.Context, token, key string) (ReserveMetrics, error) {
	ctx, span := c.tracer.Start(ctx, "aave.FetchReserve", trace.WithAttributes(
		attribute.String("aave.network", c.profile.Name),
		attribute.String("aave.token", token),
	))
	defer span.End()

	started := time.Now()
	metrics, err := c.fetchReserve(ctx, token)
	c.observer.ReserveFetched(c.profile.Name, token, time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReserveMetrics{}, err
	}

	if c.cache != nil {
		c.cache.Set(key, metrics)
	}
	return metrics, nil
}

func (c *Client) fetchReserve(ctx context.Context, token string) (metrics ReserveMetrics, err error) {
	tok, ok := c.profile.Token(token)
	if !ok {
		return ReserveMetrics{}, &TokenNotFoundError{Token: token, Network: c.profile.Name}
	}

	state, err := retry.Do(ctx, c.policy, func(ctx context.Context) (chain.ReserveState, error) {
		return c.reader.ReserveData(ctx, c.pool, tok.Address)
	}, c.retryOpts...)
	if err != nil {
		return ReserveMetrics{}, &ContractError{Token: token, Msg: "failed to read reserve data", Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ContractError{Token: token, Msg: "failed to assemble reserve metrics", Err: fmt.Errorf("%v", r)}
		}
	}()

	supplyAPY := c.conv.RayToAPY(state.CurrentLiquidityRate, fixedpoint.SupplyRate)
	borrowAPY := c.conv.RayToAPY(state.CurrentVariableBorrowRate, fixedpoint.VariableBorrowRate)

	available, total, err := c.readLiquidity(ctx, token, tok.Address, state.ATokenAddress)
	if err != nil {
		return ReserveMetrics{}, &ContractError{Token: token, Msg: "failed to read liquidity", Err: err}
	}

	metrics = ReserveMetrics{
		Symbol:      tok.Symbol,
		SupplyAPY:   supplyAPY,
		BorrowAPY:   borrowAPY,
		Liquidity:   c.conv.WeiToToken(available.String(), tok.Decimals),
		Utilization: c.conv.Utilization(total.String(), available.String()),
		AToken:      state.ATokenAddress.Hex(),
	}
	if ts := state.LastUpdateTimestamp; ts != nil && ts.Sign() > 0 {
		metrics.LastUpdated = time.Unix(ts.Int64(), 0).UTC()
	}

	c.observer.ReserveObserved(c.profile.Name, metrics)

	c.logger.Debug().
		Str("token", tok.Symbol).
		Str("supply_apy", metrics.SupplyAPY.String()).
		Str("borrow_apy", metrics.BorrowAPY.String()).
		Str("utilization", metrics.Utilization.String()).
		Msg("reserve fetched")
	return metrics, nil
}

// readLiquidity reads the underlying balance held by the aToken and the aToken supply in
// parallel. RPC failures degrade to zero; anything else is returned.
func (c *Client) readLiquidity(ctx context.Context, token string, underlying, aToken common.Address) (*big.Int, *big.Int, error) {
	var available, total *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.reader.BalanceOf(gctx, underlying, aToken)
		available = v
		return err
	})
	g.Go(func() error {
		v, err := c.reader.TotalSupply(gctx, aToken)
		total = v
		return err
	})

	if err := g.Wait(); err != nil {
		var callErr *chain.CallError
		if errors.As(err, &callErr) {
			c.logger.Warn().Err(err).Str("token", token).Msg("liquidity read failed; reporting zero liquidity")
			return new(big.Int), new(big.Int), nil
		}
		return nil, nil, err
	}

	if available == nil {
		available = new(big.Int)
	}
	if total == nil {
		total = new(big.Int)
	}
	return available, total, nil
}

func cacheKey(network, token, op string) string {
	return network + ":" + token + ":" + op
}

type nopObserver struct{}

func (nopObserver) CacheLookup(string, string, bool)                    {}
func (nopObserver) ReserveFetched(string, string, time.Duration, error) {}
func (nopObserver) ReserveObserved(string, ReserveMetrics)              {}
