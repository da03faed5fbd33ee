// Package domain defines the core types and store interfaces shared by the
// indexer, storage, and API layers.
package domain

import "time"

// CollateralAssetID is the asset id the CTF exchange uses for the collateral
// (USDC) side of a fill. Outcome tokens always have a non-zero asset id.
const CollateralAssetID = "0"

// Side describes a fill relative to the outcome token, from the taker's
// perspective: BUY means the taker paid collateral for outcome tokens.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is one decoded OrderFilled occurrence. Its identity is
// (chain_id, tx_hash, log_index) and is immutable once the block has aged
// past the confirmation depth.
type Fill struct {
	ChainID     int64
	Exchange    string // emitting contract, lowercase hex
	BlockNumber uint64
	TxHash      string
	LogIndex    uint32
	Timestamp   time.Time

	OrderHash string
	Maker     string
	Taker     string

	MakerAssetID string
	TakerAssetID string

	// Amounts are base-10 uint256 strings; they can exceed int64.
	MakerAmountFilled string
	TakerAmountFilled string
	Fee               string

	// TokenID is the outcome-token side of the fill (the non-collateral
	// asset id). ConditionID is resolved through a MarketResolver when one
	// is configured, and is empty otherwise.
	TokenID     string
	ConditionID string

	// Price is collateral units per outcome token.
	Price float64
	Side  Side
}

// FillFilter selects fills for query operations. Zero values mean
// "no constraint". Address matches either maker or taker.
type FillFilter struct {
	ChainID     int64
	ConditionID string
	TokenID     string
	Maker       string
	Taker       string
	Address     string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}
