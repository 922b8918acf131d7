package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind enumerates the primitive operations the primary pool's batch executor
// understands. Only Deposit, Withdraw and Call are produced by this engine;
// the remaining kinds exist because the pool's wire format defines them.
type Kind uint8

const (
	KindDeposit Kind = iota
	KindWithdraw
	KindTransfer
	KindBuy
	KindSell
	KindTrade
	KindLiquidate
	KindVaporize
	KindCall
)

// Denomination selects how an amount magnitude is expressed.
type Denomination uint8

const (
	// DenomRaw is the token's raw (wei-level) unit.
	DenomRaw Denomination = iota
	// DenomNormalized is the pool's interest-normalized unit.
	DenomNormalized
)

// Reference selects how an amount relates to the current balance.
type Reference uint8

const (
	// RefDelta moves the balance by the magnitude.
	RefDelta Reference = iota
	// RefTarget sets the balance to the magnitude. Never produced by
	// the engine itself.
	RefTarget
)

// AssetAmount describes a balance movement.
type AssetAmount struct {
	Sign         bool
	Denomination Denomination
	Ref          Reference
	Value        *big.Int
}

// AccountRef identifies one isolated sub-ledger within the primary pool.
type AccountRef struct {
	Owner  common.Address
	Number *big.Int
}

// Operation is one entry of an atomic batch.
type Operation struct {
	Kind              Kind
	AccountIndex      int
	Amount            AssetAmount
	MarketID          *big.Int
	Counterparty      common.Address
	OtherAccountIndex int
	Data              []byte
}
