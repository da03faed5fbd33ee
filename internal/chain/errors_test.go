package chain

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRPCError implements the rpc.Error interface go-ethereum clients
// return for JSON-RPC error responses.
type fakeRPCError struct {
	code int
	msg  string
}

func (e *fakeRPCError) Error() string  { return e.msg }
func (e *fakeRPCError) ErrorCode() int { return e.code }

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "alchemy range rejection",
			in:   &fakeRPCError{code: -32602, msg: "Log response size exceeded. You can make eth_getLogs requests with up to a 2K block range"},
			want: ErrRangeTooLarge,
		},
		{
			name: "infura result limit with eip-1474 code",
			in:   &fakeRPCError{code: -32005, msg: "query returned more than 10000 results"},
			want: ErrRangeTooLarge,
		},
		{
			name: "eip-1474 limit without range marker is throttling",
			in:   &fakeRPCError{code: -32005, msg: "project ID request rate exceeded"},
			want: ErrRateLimited,
		},
		{
			name: "generic server error with range marker",
			in:   &fakeRPCError{code: -32000, msg: "block range is too wide"},
			want: ErrRangeTooLarge,
		},
		{
			name: "http 429 body",
			in:   errors.New("429 Too Many Requests"),
			want: ErrRateLimited,
		},
		{
			name: "rate limit phrase",
			in:   errors.New("daily request count exceeded, request rate limited"),
			want: ErrRateLimited,
		},
		{
			name: "net error is transient",
			in:   &net.DNSError{Err: "no such host", Name: "rpc.example.org", IsTimeout: true},
			want: ErrTransient,
		},
		{
			name: "bad gateway body is transient",
			in:   errors.New("502 Bad Gateway"),
			want: ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRPCError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			// The original error text survives for logging.
			assert.Contains(t, got.Error(), tt.in.Error())
		})
	}
}

func TestClassifyRPCErrorPassthrough(t *testing.T) {
	require.NoError(t, ClassifyRPCError(nil))

	unknown := errors.New("execution reverted")
	assert.Equal(t, unknown, ClassifyRPCError(unknown))

	assert.Equal(t, context.Canceled, ClassifyRPCError(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, ClassifyRPCError(context.DeadlineExceeded))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ClassifyRPCError(errors.New("504 gateway timeout"))))
	assert.True(t, Retryable(ClassifyRPCError(errors.New("rate limit exceeded"))))
	assert.False(t, Retryable(ClassifyRPCError(errors.New("query returned more than 10000 results"))))
	assert.False(t, Retryable(errors.New("execution reverted")))
}
