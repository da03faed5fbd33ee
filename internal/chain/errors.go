// Package chain provides the read-only RPC boundary to the blockchain and
// the range-bounded log fetcher built on top of it.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrRangeTooLarge marks a provider rejection of a log query span.
	// Recovered by bisection, never surfaced to Sync callers.
	ErrRangeTooLarge = errors.New("chain: log range too large")

	// ErrRateLimited marks provider throttling. Retried with backoff.
	ErrRateLimited = errors.New("chain: rate limited")

	// ErrTransient marks network timeouts and provider 5xx failures.
	// Retried with backoff.
	ErrTransient = errors.New("chain: transient rpc failure")
)

// rangeMarkers are substrings providers use to reject over-wide eth_getLogs
// spans. There is no standard error code for this; Alchemy, Infura, QuickNode
// and public Polygon gateways each phrase it differently.
var rangeMarkers = []string{
	"query returned more than",
	"block range is too wide",
	"exceed maximum block range",
	"log response size exceeded",
	"range limit exceeded",
	"query timeout exceeded",
	"eth_getlogs is limited",
}

var rateMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"capacity exceeded",
	"daily request count exceeded",
}

// ClassifyRPCError wraps err with the matching sentinel so callers can route
// on errors.Is. Unrecognized errors pass through unchanged.
func ClassifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005: // EIP-1474 limit exceeded
			if containsAny(msg, rangeMarkers) {
				return fmt.Errorf("%w: %v", ErrRangeTooLarge, err)
			}
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case -32000, -32603:
			if containsAny(msg, rangeMarkers) {
				return fmt.Errorf("%w: %v", ErrRangeTooLarge, err)
			}
		}
	}

	if containsAny(msg, rangeMarkers) {
		return fmt.Errorf("%w: %v", ErrRangeTooLarge, err)
	}
	if containsAny(msg, rateMarkers) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if containsAny(msg, []string{
		"connection reset", "connection refused", "broken pipe", "eof",
		"timeout", "timed out", "502", "503", "504", "bad gateway",
		"service unavailable",
	}) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return err
}

// Retryable reports whether err should be retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
