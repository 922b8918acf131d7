package flashloan

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"FlashRoute/internal/assets"

	"github.com/ethereum/go-ethereum/common"
)

// SimLender 是二级借贷协议的内存实现。抵押与负债记在 vault 地址名下，
// vault 预先注入的余额就是协议的可借流动性。
type SimLender struct {
	ledger *assets.MemoryLedger
	self   common.Address
	vault  common.Address

	mu         sync.Mutex
	collateral map[common.Address]*big.Int
	debt       map[common.Address]*big.Int
}

// NewSimLender 创建内存借贷协议。
func NewSimLender(ledger *assets.MemoryLedger, self, vault common.Address) *SimLender {
	return &SimLender{
		ledger:     ledger,
		self:       self,
		vault:      vault,
		collateral: make(map[common.Address]*big.Int),
		debt:       make(map[common.Address]*big.Int),
	}
}

func (s *SimLender) position(m map[common.Address]*big.Int, asset common.Address) *big.Int {
	if v, ok := m[asset]; ok {
		return v
	}
	v := new(big.Int)
	m[asset] = v
	return v
}

// Deposit 抵押资产。AmountAll 表示抵押引擎当前的全部余额。
func (s *SimLender) Deposit(_ context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.Cmp(AmountAll) == 0 {
		amount = s.ledger.BalanceOf(asset, s.self)
	}
	if err := s.ledger.Transfer(asset, s.self, s.vault, amount); err != nil {
		return err
	}
	s.position(s.collateral, asset).Add(s.position(s.collateral, asset), amount)
	return nil
}

// Borrow 从协议流动性中借出资产。
func (s *SimLender) Borrow(_ context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.Transfer(asset, s.vault, s.self, amount); err != nil {
		return err
	}
	s.position(s.debt, asset).Add(s.position(s.debt, asset), amount)
	return nil
}

// Payback 偿还负债。AmountAll 表示全额偿还。
func (s *SimLender) Payback(_ context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owed := s.position(s.debt, asset)
	if amount.Cmp(AmountAll) == 0 {
		amount = new(big.Int).Set(owed)
	}
	if err := s.ledger.Transfer(asset, s.self, s.vault, amount); err != nil {
		return err
	}
	owed.Sub(owed, amount)
	return nil
}

// Withdraw 取回抵押。AmountAll 表示全额取回。
func (s *SimLender) Withdraw(_ context.Context, asset common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked := s.position(s.collateral, asset)
	if amount.Cmp(AmountAll) == 0 {
		amount = new(big.Int).Set(locked)
	}
	if err := s.ledger.Transfer(asset, s.vault, s.self, amount); err != nil {
		return err
	}
	locked.Sub(locked, amount)
	return nil
}

// Collateral 返回某资产当前的抵押量，供诊断使用。
func (s *SimLender) Collateral(asset common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.position(s.collateral, asset))
}

// Debt 返回某资产当前的负债量，供诊断使用。
func (s *SimLender) Debt(asset common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.position(s.debt, asset))
}

var _ ProtocolAdapter = (*SimLender)(nil)

// NopInvoker 在模拟模式下代替真实的代理调用，只记录调用计划。
type NopInvoker struct {
	Log *slog.Logger
}

// Invoke 记录代理调用计划并立即返回成功。
func (n NopInvoker) Invoke(_ context.Context, agent common.Address, targets []common.Address, _ [][]byte, origin common.Address) error {
	if n.Log != nil {
		n.Log.Info("agent invocation skipped",
			"agent", agent.Hex(),
			"targets", len(targets),
			"origin", origin.Hex(),
		)
	}
	return nil
}

var _ AgentInvoker = NopInvoker{}
