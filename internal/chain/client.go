// Package chain issues read-only contract calls against an EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every individual RPC call.
const DefaultTimeout = 30 * time.Second

// CallError is the single failure type surfaced by Client. Callers that want to degrade
// gracefully on RPC problems match on it with errors.As.
type CallError struct {
	Method   string
	Contract common.Address
	Err      error
}

func (e *CallError) Error() string {
	if e.Contract == (common.Address{}) {
		return fmt.Sprintf("%s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Method, e.Contract.Hex(), e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Reader is the contract-query surface consumed by the market reader.
type Reader interface {
	ReserveData(ctx context.Context, pool, asset common.Address) (ReserveState, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Options parameterise a Client.
type Options struct {
	RPCURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client implements Reader over a Backend with a per-call timeout and optional pacing.
type Client struct {
	backend Backend
	timeout time.Duration
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Dial connects to opts.RPCURL.
func Dial(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}
	eth, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.RPCURL, err)
	}
	return New(eth, opts, logger), nil
}

// New wraps an existing backend.
func New(backend Backend, opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		backend: backend,
		timeout: timeout,
		limiter: limiter,
		logger:  logger.With().Str("component", "chain").Logger(),
	}
}

// ReserveData reads getReserveData(asset) from the pool.
func (c *Client) ReserveData(ctx context.Context, pool, asset common.Address) (ReserveState, error) {
	out, err := c.call(ctx, poolABI, pool, "getReserveData", asset)
	if err != nil {
		return ReserveState{}, err
	}
	if len(out) != 1 {
		return ReserveState{}, &CallError{Method: "getReserveData", Contract: pool, Err: fmt.Errorf("unexpected output count %d", len(out))}
	}

	state, err := convertReserveState(out[0])
	if err != nil {
		return ReserveState{}, &CallError{Method: "getReserveData", Contract: pool, Err: err}
	}
	return state, nil
}

func convertReserveState(raw interface{}) (state ReserveState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode reserve tuple: %v", r)
		}
	}()
	return *abi.ConvertType(raw, new(ReserveState)).(*ReserveState), nil
}

// BalanceOf reads balanceOf(holder) on token.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", holder)
}

// TotalSupply reads totalSupply() on token.
func (c *Client) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "totalSupply")
}

// BlockNumber returns the latest block height, doubling as a connectivity check.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	height, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, &CallError{Method: "eth_blockNumber", Err: err}
	}
	return height, nil
}

// ChainID returns the endpoint's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx, "eth_chainId"); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, &CallError{Method: "eth_chainId", Err: err}
	}
	return id, nil
}

// Close releases the RPC connection when the backend holds one.
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, token, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &CallError{Method: method, Contract: token, Err: fmt.Errorf("unexpected output count %d", len(out))}
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, &CallError{Method: method, Contract: token, Err: fmt.Errorf("unexpected output type %T", out[0])}
	}
	return value, nil
}

func (c *Client) call(ctx context.Context, parsed abi.ABI, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, &CallError{Method: method, Contract: contract, Err: err}
	}
	if err := c.wait(ctx, method); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	res, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return nil, &CallError{Method: method, Contract: contract, Err: err}
	}
	c.logger.Debug().Str("method", method).Str("contract", contract.Hex()).Dur("elapsed", time.Since(started)).Msg("contract call")

	out, err := parsed.Unpack(method, res)
	if err != nil {
		return nil, &CallError{Method: method, Contract: contract, Err: err}
	}
	return out, nil
}

func (c *Client) wait(ctx context.Context, method string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &CallError{Method: method, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	return nil
}

var _ Reader = (*Client)(nil)
