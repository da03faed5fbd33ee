package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// OrderFilledTopic is the keccak hash of the CTF exchange OrderFilled event
// signature. Both the main CLOB exchange and the NegRisk exchange emit it.
var OrderFilledTopic = crypto.Keccak256Hash(
	[]byte("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"),
)

// Reader is the read-only RPC surface the indexer needs. Client implements it
// against a real endpoint; tests provide in-memory fakes.
type Reader interface {
	// HeadBlock returns the current chain head height.
	HeadBlock(ctx context.Context) (uint64, error)

	// BlockHash returns the canonical hash of the block at the given height.
	BlockHash(ctx context.Context, number uint64) (string, error)

	// BlockTimestamp returns the timestamp of the block at the given height.
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)

	// FilterLogs returns OrderFilled logs emitted by the configured exchange
	// contracts in the inclusive block range.
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
}

// ClientConfig holds connection parameters for the RPC client.
type ClientConfig struct {
	RPCURL            string
	ExchangeAddresses []string

	// RateLimitPerSecond throttles outbound RPC calls when a limiter is
	// provided. Zero disables client-side throttling.
	RateLimitPerSecond int
}

// Client wraps an ethclient against a single chain and a fixed set of
// exchange contracts. All indexer RPC traffic flows through it, so the
// optional rate limiter covers every call.
type Client struct {
	eth       *ethclient.Client
	addresses []common.Address
	limiter   domain.RateLimiter
	rps       int
}

// Dial connects to the RPC endpoint and verifies it responds.
func Dial(ctx context.Context, cfg ClientConfig, limiter domain.RateLimiter) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	addrs := make([]common.Address, 0, len(cfg.ExchangeAddresses))
	for _, a := range cfg.ExchangeAddresses {
		if !common.IsHexAddress(a) {
			eth.Close()
			return nil, fmt.Errorf("chain: invalid exchange address %q", a)
		}
		addrs = append(addrs, common.HexToAddress(a))
	}

	c := &Client{
		eth:       eth,
		addresses: addrs,
		limiter:   limiter,
		rps:       cfg.RateLimitPerSecond,
	}

	if _, err := c.HeadBlock(ctx); err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: probe head block: %w", err)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil || c.rps <= 0 {
		return nil
	}
	for {
		allowed, err := c.limiter.Allow(ctx, "rpc", c.rps, time.Second)
		if err != nil || allowed {
			return err
		}
		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// HeadBlock returns the current chain head height.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, ClassifyRPCError(err)
	}
	return n, nil
}

// BlockHash returns the canonical hash of a block, lowercase hex.
func (c *Client) BlockHash(ctx context.Context, number uint64) (string, error) {
	header, err := c.header(ctx, number)
	if err != nil {
		return "", err
	}
	return header.Hash().Hex(), nil
}

// BlockTimestamp returns the timestamp of a block.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	header, err := c.header(ctx, number)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *Client) header(ctx context.Context, number uint64) (*types.Header, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, ClassifyRPCError(err)
	}
	return header, nil
}

// FilterLogs fetches OrderFilled logs for the configured exchanges in the
// inclusive range. Errors are classified for the fetcher's bisection and
// retry logic.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: c.addresses,
		Topics:    [][]common.Hash{{OrderFilledTopic}},
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, ClassifyRPCError(err)
	}
	return logs, nil
}

// BlockByTimestamp returns the first block whose timestamp is >= target,
// by binary search over block headers. Used to start a backfill from a
// wall-clock time instead of a block number.
func BlockByTimestamp(ctx context.Context, r Reader, target time.Time) (uint64, error) {
	head, err := r.HeadBlock(ctx)
	if err != nil {
		return 0, err
	}
	headTime, err := r.BlockTimestamp(ctx, head)
	if err != nil {
		return 0, err
	}
	if !target.Before(headTime) {
		return head, nil
	}

	lo, hi := uint64(0), head
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := r.BlockTimestamp(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ts.Before(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

var _ Reader = (*Client)(nil)
