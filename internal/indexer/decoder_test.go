package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
)

const (
	testExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	testTokenID  = "21742633143463906290569050155826241533067272736897614950488156847949938836455"
)

var (
	testMaker = common.HexToAddress("0xAAAA567890123456789012345678901234567890")
	testTaker = common.HexToAddress("0xBBBB567890123456789012345678901234567890")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "parse %q", s)
	return v
}

func word(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

// orderFilledLog builds a log in the exchanges' emitted layout: orderHash,
// maker and taker indexed, the remaining fields ABI-packed into data.
func orderFilledLog(block uint64, index uint, maker, taker common.Address,
	makerAsset, takerAsset, makerAmount, takerAmount, fee *big.Int) types.Log {

	var data []byte
	for _, v := range []*big.Int{makerAsset, takerAsset, makerAmount, takerAmount, fee} {
		data = append(data, word(v)...)
	}
	return types.Log{
		Address: common.HexToAddress(testExchange),
		Topics: []common.Hash{
			chain.OrderFilledTopic,
			common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(index))),
			common.BytesToHash(maker.Bytes()),
			common.BytesToHash(taker.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1_000_000+uint64(index))),
		Index:       index,
	}
}

func TestDecodeTakerBuy(t *testing.T) {
	token := mustBig(t, testTokenID)
	// Maker gives 2,000,000 outcome tokens, taker gives 1,300,000 USDC.
	raw := orderFilledLog(50, 3, testMaker, testTaker,
		token, big.NewInt(0), big.NewInt(2_000_000), big.NewInt(1_300_000), big.NewInt(500))

	d := NewDecoder(137, nil, discardLogger())
	blockTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	fill, err := d.Decode(context.Background(), raw, blockTime)
	require.NoError(t, err)

	assert.Equal(t, int64(137), fill.ChainID)
	assert.Equal(t, "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e", fill.Exchange)
	assert.Equal(t, uint64(50), fill.BlockNumber)
	assert.Equal(t, uint32(3), fill.LogIndex)
	assert.Equal(t, blockTime, fill.Timestamp)
	assert.Equal(t, "0xaaaa567890123456789012345678901234567890", fill.Maker)
	assert.Equal(t, "0xbbbb567890123456789012345678901234567890", fill.Taker)
	assert.Equal(t, testTokenID, fill.MakerAssetID)
	assert.Equal(t, domain.CollateralAssetID, fill.TakerAssetID)
	assert.Equal(t, "2000000", fill.MakerAmountFilled)
	assert.Equal(t, "1300000", fill.TakerAmountFilled)
	assert.Equal(t, "500", fill.Fee)

	// Taker paid collateral for outcome tokens.
	assert.Equal(t, domain.SideBuy, fill.Side)
	assert.Equal(t, testTokenID, fill.TokenID)
	assert.InDelta(t, 0.65, fill.Price, 1e-9)
	assert.Empty(t, fill.ConditionID)
}

func TestDecodeTakerSell(t *testing.T) {
	token := mustBig(t, testTokenID)
	// Maker gives 420,000 USDC, taker gives 1,000,000 outcome tokens.
	raw := orderFilledLog(51, 0, testMaker, testTaker,
		big.NewInt(0), token, big.NewInt(420_000), big.NewInt(1_000_000), big.NewInt(0))

	d := NewDecoder(137, nil, discardLogger())
	fill, err := d.Decode(context.Background(), raw, time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.SideSell, fill.Side)
	assert.Equal(t, testTokenID, fill.TokenID)
	assert.InDelta(t, 0.42, fill.Price, 1e-9)
}

func TestDecodeTokenForToken(t *testing.T) {
	makerToken := mustBig(t, testTokenID)
	takerToken := big.NewInt(987654321)
	raw := orderFilledLog(52, 1, testMaker, testTaker,
		makerToken, takerToken, big.NewInt(1_000_000), big.NewInt(1_000_000), big.NewInt(0))

	d := NewDecoder(137, nil, discardLogger())
	fill, err := d.Decode(context.Background(), raw, time.Now())
	require.NoError(t, err)

	// No collateral side: the maker asset is treated as the outcome token.
	assert.Equal(t, domain.SideBuy, fill.Side)
	assert.Equal(t, testTokenID, fill.TokenID)
	assert.InDelta(t, 1.0, fill.Price, 1e-9)
}

func TestDecodeDataOnlyLayout(t *testing.T) {
	token := mustBig(t, testTokenID)
	orderHash := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")

	var data []byte
	data = append(data, orderHash.Bytes()...)
	data = append(data, common.BytesToHash(testMaker.Bytes()).Bytes()...)
	data = append(data, common.BytesToHash(testTaker.Bytes()).Bytes()...)
	for _, v := range []*big.Int{token, big.NewInt(0), big.NewInt(3_000_000), big.NewInt(900_000), big.NewInt(0)} {
		data = append(data, word(v)...)
	}

	raw := types.Log{
		Address:     common.HexToAddress(testExchange),
		Topics:      []common.Hash{chain.OrderFilledTopic},
		Data:        data,
		BlockNumber: 60,
		TxHash:      common.HexToHash("0x01"),
		Index:       2,
	}

	d := NewDecoder(137, nil, discardLogger())
	fill, err := d.Decode(context.Background(), raw, time.Now())
	require.NoError(t, err)

	assert.Equal(t, orderHash.Hex(), fill.OrderHash)
	assert.Equal(t, "0xaaaa567890123456789012345678901234567890", fill.Maker)
	assert.Equal(t, "0xbbbb567890123456789012345678901234567890", fill.Taker)
	assert.Equal(t, domain.SideBuy, fill.Side)
	assert.InDelta(t, 0.3, fill.Price, 1e-9)
}

func TestDecodeRejectsForeignTopic(t *testing.T) {
	raw := types.Log{
		Topics:      []common.Hash{common.HexToHash("0xdead")},
		TxHash:      common.HexToHash("0x02"),
		BlockNumber: 61,
		Index:       5,
	}

	d := NewDecoder(137, nil, discardLogger())
	_, err := d.Decode(context.Background(), raw, time.Now())

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, uint(5), decodeErr.LogIndex)
	assert.Contains(t, decodeErr.Reason, "topic0")
}

func TestDecodeRejectsTruncatedData(t *testing.T) {
	raw := types.Log{
		Topics: []common.Hash{
			chain.OrderFilledTopic,
			common.HexToHash("0x03"),
			common.BytesToHash(testMaker.Bytes()),
			common.BytesToHash(testTaker.Bytes()),
		},
		Data:        word(big.NewInt(1)), // one word where five are expected
		TxHash:      common.HexToHash("0x04"),
		BlockNumber: 62,
		Index:       0,
	}

	d := NewDecoder(137, nil, discardLogger())
	_, err := d.Decode(context.Background(), raw, time.Now())

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Reason, "unexpected layout")
}

type stubResolver struct {
	conditions map[string]string
	err        error
	calls      int
}

func (r *stubResolver) ResolveCondition(_ context.Context, tokenID string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	cond, ok := r.conditions[tokenID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return cond, nil
}

func TestDecodeResolvesCondition(t *testing.T) {
	token := mustBig(t, testTokenID)
	raw := orderFilledLog(53, 0, testMaker, testTaker,
		token, big.NewInt(0), big.NewInt(1_000_000), big.NewInt(500_000), big.NewInt(0))

	resolver := &stubResolver{conditions: map[string]string{
		testTokenID: "0xc0ffee0000000000000000000000000000000000000000000000000000000000",
	}}
	d := NewDecoder(137, resolver, discardLogger())

	fill, err := d.Decode(context.Background(), raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "0xc0ffee0000000000000000000000000000000000000000000000000000000000", fill.ConditionID)
	assert.Equal(t, 1, resolver.calls)
}

func TestDecodeResolverFailureLeavesConditionEmpty(t *testing.T) {
	token := mustBig(t, testTokenID)
	raw := orderFilledLog(54, 0, testMaker, testTaker,
		token, big.NewInt(0), big.NewInt(1_000_000), big.NewInt(500_000), big.NewInt(0))

	d := NewDecoder(137, &stubResolver{err: errors.New("gamma unreachable")}, discardLogger())

	fill, err := d.Decode(context.Background(), raw, time.Now())
	require.NoError(t, err)
	assert.Empty(t, fill.ConditionID)
	assert.Equal(t, domain.SideBuy, fill.Side)
}
