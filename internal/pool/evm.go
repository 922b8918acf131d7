package pool

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

// poolABIJSON mirrors the on-chain batch executor surface the engine drives.
const poolABIJSON = `[
  {"name":"getNumMarkets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"getMarketTokenAddress","type":"function","stateMutability":"view","inputs":[{"name":"marketId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"name":"getAccountWei","type":"function","stateMutability":"view","inputs":[
    {"name":"account","type":"tuple","components":[{"name":"owner","type":"address"},{"name":"number","type":"uint256"}]},
    {"name":"marketId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[{"name":"sign","type":"bool"},{"name":"value","type":"uint256"}]}]},
  {"name":"operate","type":"function","stateMutability":"nonpayable","inputs":[
    {"name":"accounts","type":"tuple[]","components":[{"name":"owner","type":"address"},{"name":"number","type":"uint256"}]},
    {"name":"actions","type":"tuple[]","components":[
      {"name":"actionType","type":"uint8"},
      {"name":"accountId","type":"uint256"},
      {"name":"amount","type":"tuple","components":[
        {"name":"sign","type":"bool"},
        {"name":"denomination","type":"uint8"},
        {"name":"ref","type":"uint8"},
        {"name":"value","type":"uint256"}]},
      {"name":"primaryMarketId","type":"uint256"},
      {"name":"secondaryMarketId","type":"uint256"},
      {"name":"otherAddress","type":"address"},
      {"name":"otherAccountId","type":"uint256"},
      {"name":"data","type":"bytes"}]}],
   "outputs":[]}
]`

var (
	poolABIOnce sync.Once
	poolABIVal  abi.ABI
)

func poolABI() abi.ABI {
	poolABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
		if err != nil {
			panic(fmt.Sprintf("pool: parse pool ABI: %v", err))
		}
		poolABIVal = parsed
	})
	return poolABIVal
}

type abiAccount struct {
	Owner  common.Address
	Number *big.Int
}

type abiAmount struct {
	Sign         bool
	Denomination uint8
	Ref          uint8
	Value        *big.Int
}

type abiAction struct {
	ActionType        uint8
	AccountId         *big.Int
	Amount            abiAmount
	PrimaryMarketId   *big.Int
	SecondaryMarketId *big.Int
	OtherAddress      common.Address
	OtherAccountId    *big.Int
	Data              []byte
}

// EVMPool drives a deployed batch-executor pool contract over RPC.
type EVMPool struct {
	client *evm.Client
	addr   common.Address
}

// NewEVMPool binds the pool contract at the given address.
func NewEVMPool(client *evm.Client, addr common.Address) (*EVMPool, error) {
	if client == nil {
		return nil, fmt.Errorf("EVM 客户端不能为空")
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("资金池合约地址不能为空")
	}
	return &EVMPool{client: client, addr: addr}, nil
}

// Address returns the pool contract address.
func (p *EVMPool) Address() common.Address { return p.addr }

// NumMarkets reports how many markets the pool currently lists.
func (p *EVMPool) NumMarkets(ctx context.Context) (*big.Int, error) {
	data, err := poolABI().Pack("getNumMarkets")
	if err != nil {
		return nil, fmt.Errorf("编码 getNumMarkets 失败: %w", err)
	}
	out, err := p.client.Call(ctx, p.addr, data)
	if err != nil {
		return nil, err
	}
	values, err := poolABI().Unpack("getNumMarkets", out)
	if err != nil {
		return nil, fmt.Errorf("解析 getNumMarkets 返回值失败: %w", err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getNumMarkets 返回值类型异常")
	}
	return n, nil
}

// MarketToken returns the token listed at the given market id.
func (p *EVMPool) MarketToken(ctx context.Context, marketID *big.Int) (common.Address, error) {
	data, err := poolABI().Pack("getMarketTokenAddress", marketID)
	if err != nil {
		return common.Address{}, fmt.Errorf("编码 getMarketTokenAddress 失败: %w", err)
	}
	out, err := p.client.Call(ctx, p.addr, data)
	if err != nil {
		return common.Address{}, err
	}
	values, err := poolABI().Unpack("getMarketTokenAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("解析 getMarketTokenAddress 返回值失败: %w", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getMarketTokenAddress 返回值类型异常")
	}
	return addr, nil
}

// AccountBalance returns the signed balance an account holds in a market.
func (p *EVMPool) AccountBalance(ctx context.Context, acct AccountRef, marketID *big.Int) (*big.Int, error) {
	data, err := poolABI().Pack("getAccountWei", abiAccount{Owner: acct.Owner, Number: acct.Number}, marketID)
	if err != nil {
		return nil, fmt.Errorf("编码 getAccountWei 失败: %w", err)
	}
	out, err := p.client.Call(ctx, p.addr, data)
	if err != nil {
		return nil, err
	}
	values, err := poolABI().Unpack("getAccountWei", out)
	if err != nil {
		return nil, fmt.Errorf("解析 getAccountWei 返回值失败: %w", err)
	}
	wei, ok := values[0].(struct {
		Sign  bool     `json:"sign"`
		Value *big.Int `json:"value"`
	})
	if !ok {
		return nil, fmt.Errorf("getAccountWei 返回值类型异常")
	}
	balance := new(big.Int).Set(wei.Value)
	if !wei.Sign {
		balance.Neg(balance)
	}
	return balance, nil
}

// Operate packs the batch and submits it as a single transaction. Callback
// re-entry happens inside the pool contract, not in this process.
func (p *EVMPool) Operate(ctx context.Context, accounts []AccountRef, ops []Operation) error {
	abiAccounts := make([]abiAccount, len(accounts))
	for i, acct := range accounts {
		number := acct.Number
		if number == nil {
			number = new(big.Int)
		}
		abiAccounts[i] = abiAccount{Owner: acct.Owner, Number: number}
	}

	actions := make([]abiAction, len(ops))
	for i, op := range ops {
		marketID := op.MarketID
		if marketID == nil {
			marketID = new(big.Int)
		}
		value := op.Amount.Value
		if value == nil {
			value = new(big.Int)
		}
		actions[i] = abiAction{
			ActionType:        uint8(op.Kind),
			AccountId:         big.NewInt(int64(op.AccountIndex)),
			Amount:            abiAmount{Sign: op.Amount.Sign, Denomination: uint8(op.Amount.Denomination), Ref: uint8(op.Amount.Ref), Value: value},
			PrimaryMarketId:   marketID,
			SecondaryMarketId: new(big.Int),
			OtherAddress:      op.Counterparty,
			OtherAccountId:    big.NewInt(int64(op.OtherAccountIndex)),
			Data:              op.Data,
		}
	}

	data, err := poolABI().Pack("operate", abiAccounts, actions)
	if err != nil {
		return fmt.Errorf("编码 operate 失败: %w", err)
	}
	if _, err := p.client.Send(ctx, p.addr, nil, data); err != nil {
		return fmt.Errorf("提交 operate 批次失败: %w", err)
	}
	return nil
}

var _ Ledger = (*EVMPool)(nil)
