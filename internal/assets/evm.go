package assets

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"FlashRoute/internal/evm"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
  {"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var (
	erc20ABIOnce sync.Once
	erc20ABI     abi.ABI
)

func tokenABI() abi.ABI {
	erc20ABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			panic(fmt.Sprintf("assets: parse ERC20 ABI: %v", err))
		}
		erc20ABI = parsed
	})
	return erc20ABI
}

// EVMRegistry 基于链上 ERC20 合约实现资产访问。
type EVMRegistry struct {
	client *evm.Client
	bridge *evmToken
}

// NewEVMRegistry 创建链上资产注册表。bridge 为桥接资产（wrapped native）合约地址。
func NewEVMRegistry(client *evm.Client, bridge common.Address) (*EVMRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("EVM 客户端不能为空")
	}
	if bridge == (common.Address{}) {
		return nil, fmt.Errorf("桥接资产地址不能为空")
	}
	r := &EVMRegistry{client: client}
	r.bridge = &evmToken{client: client, addr: bridge}
	return r, nil
}

// Token 返回指定地址的 ERC20 访问器。
func (r *EVMRegistry) Token(addr common.Address) (Token, error) {
	if addr == (common.Address{}) || addr == NativeMarker {
		return nil, fmt.Errorf("非法的代币地址: %s", addr.Hex())
	}
	if addr == r.bridge.addr {
		return r.bridge, nil
	}
	return &evmToken{client: r.client, addr: addr}, nil
}

// Bridge 返回桥接资产访问器。
func (r *EVMRegistry) Bridge() WrappedNative {
	return r.bridge
}

// NativeBalance 返回引擎账户的原生币余额。
func (r *EVMRegistry) NativeBalance(ctx context.Context) (*big.Int, error) {
	return r.client.BalanceAt(ctx, r.client.From())
}

// TransferNative 从引擎账户转出原生币。
func (r *EVMRegistry) TransferNative(ctx context.Context, to common.Address, amount *big.Int) error {
	_, err := r.client.Send(ctx, to, amount, nil)
	return err
}

// evmToken 是单个 ERC20 合约的访问器。桥接资产同时支持 deposit/withdraw。
type evmToken struct {
	client *evm.Client
	addr   common.Address
}

func (t *evmToken) Address() common.Address { return t.addr }

func (t *evmToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := tokenABI().Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 失败: %w", err)
	}
	out, err := t.client.Call(ctx, t.addr, data)
	if err != nil {
		return nil, err
	}
	values, err := tokenABI().Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("解析 balanceOf 返回值失败: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf 返回值类型异常")
	}
	return balance, nil
}

func (t *evmToken) Approve(ctx context.Context, spender common.Address, amount *big.Int) error {
	data, err := tokenABI().Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("编码 approve 失败: %w", err)
	}
	_, err = t.client.Send(ctx, t.addr, nil, data)
	return err
}

func (t *evmToken) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	data, err := tokenABI().Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("编码 transfer 失败: %w", err)
	}
	_, err = t.client.Send(ctx, t.addr, nil, data)
	return err
}

// Wrap 将原生币存入桥接合约。
func (t *evmToken) Wrap(ctx context.Context, amount *big.Int) error {
	data, err := tokenABI().Pack("deposit")
	if err != nil {
		return fmt.Errorf("编码 deposit 失败: %w", err)
	}
	_, err = t.client.Send(ctx, t.addr, amount, data)
	return err
}

// Unwrap 从桥接合约取回原生币。
func (t *evmToken) Unwrap(ctx context.Context, amount *big.Int) error {
	data, err := tokenABI().Pack("withdraw", amount)
	if err != nil {
		return fmt.Errorf("编码 withdraw 失败: %w", err)
	}
	_, err = t.client.Send(ctx, t.addr, nil, data)
	return err
}

var (
	_ Registry      = (*EVMRegistry)(nil)
	_ WrappedNative = (*evmToken)(nil)
)
