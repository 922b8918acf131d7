package flashloan

import (
	"context"
	"math/big"

	xerrors "FlashRoute/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Executor 是受托执行原语：以编排器身份向目标地址发起一次调用。
// 生产环境由 EVM 客户端实现，测试中用记录型替身。
type Executor interface {
	DelegateCall(ctx context.Context, target common.Address, data []byte) error
}

// ProtocolAdapter 是二级借贷协议的统一能力面。每个杠杆路由在构造期绑定一个实现。
type ProtocolAdapter interface {
	Deposit(ctx context.Context, asset common.Address, amount *big.Int) error
	Borrow(ctx context.Context, asset common.Address, amount *big.Int) error
	Payback(ctx context.Context, asset common.Address, amount *big.Int) error
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int) error
}

// AmountAll 表示"全部余额"的哨兵值：存入全部可用、全额偿还、全额取回。
// 避免按具体数值结算残留灰尘。
var AmountAll = new(big.Int).Set(math.MaxBig256)

var assetAmountArguments = abi.Arguments{
	{Name: "asset", Type: mustABIType("address")},
	{Name: "amount", Type: mustABIType("uint256")},
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func packAssetAmount(signature string, asset common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		amount = AmountAll
	}
	args, err := assetAmountArguments.Pack(asset, amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "协议调用参数编码失败")
	}
	return append(selector(signature), args...), nil
}

// vaultAdapter 对接金库型协议：抵押锁入金库、从金库中贷出。
type vaultAdapter struct {
	target common.Address
	exec   Executor
}

// NewVaultAdapter 构造金库型协议适配器。目标地址未配置时立即报错，
// 而不是留到调用时静默失败。
func NewVaultAdapter(target common.Address, exec Executor) (ProtocolAdapter, error) {
	if target == (common.Address{}) {
		return nil, ErrInvalidTarget
	}
	return &vaultAdapter{target: target, exec: exec}, nil
}

func (a *vaultAdapter) call(ctx context.Context, signature string, asset common.Address, amount *big.Int) error {
	if a.target == (common.Address{}) {
		return ErrInvalidTarget
	}
	data, err := packAssetAmount(signature, asset, amount)
	if err != nil {
		return err
	}
	return a.exec.DelegateCall(ctx, a.target, data)
}

func (a *vaultAdapter) Deposit(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "lock(address,uint256)", asset, amount)
}

func (a *vaultAdapter) Borrow(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "draw(address,uint256)", asset, amount)
}

func (a *vaultAdapter) Payback(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "wipe(address,uint256)", asset, amount)
}

func (a *vaultAdapter) Withdraw(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "free(address,uint256)", asset, amount)
}

// lendingPoolAdapter 对接资金池型协议：按资产存入抵押、按资产借出。
type lendingPoolAdapter struct {
	target common.Address
	exec   Executor
}

// NewLendingPoolAdapter 构造资金池型协议适配器。
func NewLendingPoolAdapter(target common.Address, exec Executor) (ProtocolAdapter, error) {
	if target == (common.Address{}) {
		return nil, ErrInvalidTarget
	}
	return &lendingPoolAdapter{target: target, exec: exec}, nil
}

func (a *lendingPoolAdapter) call(ctx context.Context, signature string, asset common.Address, amount *big.Int) error {
	if a.target == (common.Address{}) {
		return ErrInvalidTarget
	}
	data, err := packAssetAmount(signature, asset, amount)
	if err != nil {
		return err
	}
	return a.exec.DelegateCall(ctx, a.target, data)
}

func (a *lendingPoolAdapter) Deposit(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "deposit(address,uint256)", asset, amount)
}

func (a *lendingPoolAdapter) Borrow(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "borrow(address,uint256)", asset, amount)
}

func (a *lendingPoolAdapter) Payback(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "payback(address,uint256)", asset, amount)
}

func (a *lendingPoolAdapter) Withdraw(ctx context.Context, asset common.Address, amount *big.Int) error {
	return a.call(ctx, "withdraw(address,uint256)", asset, amount)
}
