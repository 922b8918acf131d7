package assets

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeMarker is the conventional pseudo-address that denotes the chain's
// native asset inside a token list.
var NativeMarker = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token is the fungible-token surface the engine consumes. Mutating calls act
// on behalf of the engine's own identity.
type Token interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// WrappedNative is the bridge asset: a token wrapping the native asset 1:1.
type WrappedNative interface {
	Token

	// Wrap converts native balance held by the engine into token balance.
	Wrap(ctx context.Context, amount *big.Int) error
	// Unwrap converts token balance held by the engine back into native balance.
	Unwrap(ctx context.Context, amount *big.Int) error
}

// Registry resolves token addresses to usable token handles and exposes the
// engine's native-asset holdings.
type Registry interface {
	Token(addr common.Address) (Token, error)
	Bridge() WrappedNative
	NativeBalance(ctx context.Context) (*big.Int, error)
	TransferNative(ctx context.Context, to common.Address, amount *big.Int) error
}
