package pool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Callback is the mid-batch re-entry surface a Call operation targets. The
// pool invokes it synchronously, exactly once per Call operation, before the
// batch continues.
type Callback interface {
	CallFunction(ctx context.Context, sender common.Address, acct AccountRef, data []byte) error
}

// Ledger is the consumed surface of the primary liquidity pool. The pool
// guarantees all-or-nothing execution of the operation batch passed to
// Operate.
type Ledger interface {
	// NumMarkets reports how many markets the pool currently lists.
	NumMarkets(ctx context.Context) (*big.Int, error)
	// MarketToken returns the token listed at the given market id.
	MarketToken(ctx context.Context, marketID *big.Int) (common.Address, error)
	// Operate executes the batch atomically, driving callbacks for Call
	// operations along the way.
	Operate(ctx context.Context, accounts []AccountRef, ops []Operation) error
	// AccountBalance returns the signed balance an account holds in a market.
	AccountBalance(ctx context.Context, acct AccountRef, marketID *big.Int) (*big.Int, error)
}
