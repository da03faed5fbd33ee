// Package indexer contains the event decoder and the sync orchestrator that
// together materialize on-chain OrderFilled logs into the fill store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
)

const wordSize = 32

// DecodeError reports a log that could not be parsed into a fill. It is
// per-log and non-fatal: the orchestrator skips the log and counts it.
type DecodeError struct {
	TxHash   string
	LogIndex uint
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("indexer: decode log %s[%d]: %s", e.TxHash, e.LogIndex, e.Reason)
}

// Decoder converts raw OrderFilled logs into domain fills. An optional
// MarketResolver enriches fills with their condition id; without one the
// condition id is left empty.
type Decoder struct {
	chainID  int64
	resolver domain.MarketResolver
	logger   *slog.Logger
}

// NewDecoder creates a Decoder for one chain. resolver may be nil.
func NewDecoder(chainID int64, resolver domain.MarketResolver, logger *slog.Logger) *Decoder {
	return &Decoder{
		chainID:  chainID,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "decoder")),
	}
}

// Decode parses one log. The block timestamp is supplied by the caller,
// which caches header lookups per block.
//
// OrderFilled(bytes32 orderHash, address indexed maker, address indexed
// taker, uint256 makerAssetId, uint256 takerAssetId, uint256
// makerAmountFilled, uint256 takerAmountFilled, uint256 fee). The exchanges
// emit orderHash as the first indexed topic; a fallback layout with every
// field ABI-packed into data is accepted too.
func (d *Decoder) Decode(ctx context.Context, raw types.Log, blockTime time.Time) (domain.Fill, error) {
	if len(raw.Topics) == 0 || raw.Topics[0] != chain.OrderFilledTopic {
		return domain.Fill{}, &DecodeError{
			TxHash:   raw.TxHash.Hex(),
			LogIndex: raw.Index,
			Reason:   "topic0 is not OrderFilled",
		}
	}

	words := splitWords(raw.Data)

	var (
		orderHash    string
		maker, taker string
		makerAsset   *big.Int
		takerAsset   *big.Int
		makerAmount  *big.Int
		takerAmount  *big.Int
		fee          *big.Int
	)

	switch {
	case len(raw.Topics) >= 4 && len(words) >= 5:
		orderHash = strings.ToLower(raw.Topics[1].Hex())
		maker = strings.ToLower(common.BytesToAddress(raw.Topics[2].Bytes()).Hex())
		taker = strings.ToLower(common.BytesToAddress(raw.Topics[3].Bytes()).Hex())
		makerAsset = new(big.Int).SetBytes(words[0])
		takerAsset = new(big.Int).SetBytes(words[1])
		makerAmount = new(big.Int).SetBytes(words[2])
		takerAmount = new(big.Int).SetBytes(words[3])
		fee = new(big.Int).SetBytes(words[4])
	case len(words) >= 8:
		orderHash = strings.ToLower(common.BytesToHash(words[0]).Hex())
		maker = strings.ToLower(common.BytesToAddress(words[1][12:]).Hex())
		taker = strings.ToLower(common.BytesToAddress(words[2][12:]).Hex())
		makerAsset = new(big.Int).SetBytes(words[3])
		takerAsset = new(big.Int).SetBytes(words[4])
		makerAmount = new(big.Int).SetBytes(words[5])
		takerAmount = new(big.Int).SetBytes(words[6])
		fee = new(big.Int).SetBytes(words[7])
	default:
		return domain.Fill{}, &DecodeError{
			TxHash:   raw.TxHash.Hex(),
			LogIndex: raw.Index,
			Reason: fmt.Sprintf("unexpected layout: %d topics, %d data words",
				len(raw.Topics), len(words)),
		}
	}

	fill := domain.Fill{
		ChainID:           d.chainID,
		Exchange:          strings.ToLower(raw.Address.Hex()),
		BlockNumber:       raw.BlockNumber,
		TxHash:            strings.ToLower(raw.TxHash.Hex()),
		LogIndex:          uint32(raw.Index),
		Timestamp:         blockTime,
		OrderHash:         orderHash,
		Maker:             maker,
		Taker:             taker,
		MakerAssetID:      makerAsset.String(),
		TakerAssetID:      takerAsset.String(),
		MakerAmountFilled: makerAmount.String(),
		TakerAmountFilled: takerAmount.String(),
		Fee:               fee.String(),
	}

	fill.TokenID, fill.Price, fill.Side = derivePriceSide(
		fill.MakerAssetID, fill.TakerAssetID, makerAmount, takerAmount,
	)

	if d.resolver != nil && fill.TokenID != "" {
		conditionID, err := d.resolver.ResolveCondition(ctx, fill.TokenID)
		if err != nil {
			d.logger.Warn("condition lookup failed, leaving empty",
				slog.String("token_id", fill.TokenID),
				slog.String("error", err.Error()),
			)
		} else {
			fill.ConditionID = conditionID
		}
	}

	return fill, nil
}

// derivePriceSide orients the price by which asset is the collateral. When
// the maker gives collateral the taker is selling outcome tokens; when the
// taker gives collateral the taker is buying. Price is always collateral
// units per outcome token. Token-for-token fills (NegRisk conversions) have
// no collateral side; the maker asset is treated as the outcome token.
func derivePriceSide(makerAssetID, takerAssetID string, makerAmount, takerAmount *big.Int) (string, float64, domain.Side) {
	switch {
	case makerAssetID == domain.CollateralAssetID:
		return takerAssetID, ratio(makerAmount, takerAmount), domain.SideSell
	case takerAssetID == domain.CollateralAssetID:
		return makerAssetID, ratio(takerAmount, makerAmount), domain.SideBuy
	default:
		return makerAssetID, ratio(takerAmount, makerAmount), domain.SideBuy
	}
}

func ratio(num, den *big.Int) float64 {
	if den.Sign() == 0 {
		return 0
	}
	q := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den))
	f, _ := q.Float64()
	return f
}

func splitWords(data []byte) [][]byte {
	words := make([][]byte, 0, len(data)/wordSize)
	for i := 0; i+wordSize <= len(data); i += wordSize {
		words = append(words, data[i:i+wordSize])
	}
	return words
}
