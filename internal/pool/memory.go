package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"FlashRoute/internal/assets"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryPool is an in-process primary pool backed by an assets.MemoryLedger.
// It exists for the daemon's simulated mode and for tests, in the same spirit
// as a simulated chain backend: the batch either commits entirely or the
// ledger and all account balances are rewound.
//
// Withdrawn value is tracked as a negative account balance per market; the
// batch only commits if every touched account ends non-negative, which is the
// pool-level repayment guarantee the engine builds on.
type MemoryPool struct {
	mu       sync.Mutex
	ledger   *assets.MemoryLedger
	markets  []common.Address
	address  common.Address
	callees  map[common.Address]Callback
	accounts map[acctKey]*big.Int
}

type acctKey struct {
	owner  common.Address
	number string
	market string
}

// NewMemoryPool creates a pool holding its liquidity at the given address and
// listing the given tokens as markets, in order.
func NewMemoryPool(ledger *assets.MemoryLedger, address common.Address, markets []common.Address) *MemoryPool {
	return &MemoryPool{
		ledger:   ledger,
		markets:  append([]common.Address(nil), markets...),
		address:  address,
		callees:  make(map[common.Address]Callback),
		accounts: make(map[acctKey]*big.Int),
	}
}

// Address returns the address the pool holds its liquidity at.
func (p *MemoryPool) Address() common.Address { return p.address }

// RegisterCallee binds a callback handler to a counterparty address, so Call
// operations targeting that address can be dispatched in-process.
func (p *MemoryPool) RegisterCallee(addr common.Address, cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callees[addr] = cb
}

// NumMarkets implements Ledger.
func (p *MemoryPool) NumMarkets(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return big.NewInt(int64(len(p.markets))), nil
}

// MarketToken implements Ledger.
func (p *MemoryPool) MarketToken(_ context.Context, marketID *big.Int) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if marketID == nil || !marketID.IsInt64() || marketID.Int64() < 0 || marketID.Int64() >= int64(len(p.markets)) {
		return common.Address{}, fmt.Errorf("市场不存在: %v", marketID)
	}
	return p.markets[marketID.Int64()], nil
}

// AccountBalance implements Ledger.
func (p *MemoryPool) AccountBalance(_ context.Context, acct AccountRef, marketID *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bal, ok := p.accounts[p.key(acct, marketID)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Operate implements Ledger. Operations run in order; a Call operation
// re-enters the registered callee synchronously with the account owner as
// sender. Any failure, including a post-batch negative account balance,
// rewinds everything.
func (p *MemoryPool) Operate(ctx context.Context, accounts []AccountRef, ops []Operation) error {
	if len(accounts) == 0 {
		return errors.New("批量操作缺少账户")
	}

	ledgerSnap := p.ledger.Snapshot()
	acctSnap := p.snapshotAccounts()
	touched := make(map[acctKey]struct{})

	rollback := func() {
		p.ledger.Restore(ledgerSnap)
		p.mu.Lock()
		p.accounts = acctSnap
		p.mu.Unlock()
	}

	for i, op := range ops {
		if op.AccountIndex < 0 || op.AccountIndex >= len(accounts) {
			rollback()
			return fmt.Errorf("操作 %d 引用了不存在的账户", i)
		}
		acct := accounts[op.AccountIndex]
		if err := p.apply(ctx, acct, op, touched); err != nil {
			rollback()
			return err
		}
	}

	if err := p.verifySolvent(touched); err != nil {
		rollback()
		return err
	}
	return nil
}

func (p *MemoryPool) apply(ctx context.Context, acct AccountRef, op Operation, touched map[acctKey]struct{}) error {
	switch op.Kind {
	case KindWithdraw:
		if err := validateDelta(op.Amount); err != nil {
			return err
		}
		token, err := p.MarketToken(ctx, op.MarketID)
		if err != nil {
			return err
		}
		if err := p.ledger.Transfer(token, p.address, op.Counterparty, op.Amount.Value); err != nil {
			return fmt.Errorf("资金池流动性不足: %w", err)
		}
		p.adjust(acct, op.MarketID, new(big.Int).Neg(op.Amount.Value), touched)
		return nil
	case KindDeposit:
		if err := validateDelta(op.Amount); err != nil {
			return err
		}
		token, err := p.MarketToken(ctx, op.MarketID)
		if err != nil {
			return err
		}
		if err := p.ledger.TransferFrom(token, op.Counterparty, p.address, p.address, op.Amount.Value); err != nil {
			return fmt.Errorf("存入失败: %w", err)
		}
		p.adjust(acct, op.MarketID, op.Amount.Value, touched)
		return nil
	case KindCall:
		p.mu.Lock()
		cb, ok := p.callees[op.Counterparty]
		p.mu.Unlock()
		if !ok {
			return fmt.Errorf("Call 目标 %s 未注册回调", op.Counterparty.Hex())
		}
		// The operate caller is the account owner in this engine, so the
		// owner doubles as the authenticated sender.
		return cb.CallFunction(ctx, acct.Owner, acct, op.Data)
	default:
		return fmt.Errorf("模拟资金池不支持操作类型 %d", op.Kind)
	}
}

func (p *MemoryPool) adjust(acct AccountRef, marketID, delta *big.Int, touched map[acctKey]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.key(acct, marketID)
	bal, ok := p.accounts[key]
	if !ok {
		bal = new(big.Int)
	}
	p.accounts[key] = new(big.Int).Add(bal, delta)
	touched[key] = struct{}{}
}

func (p *MemoryPool) verifySolvent(touched map[acctKey]struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range touched {
		if bal, ok := p.accounts[key]; ok && bal.Sign() < 0 {
			return fmt.Errorf("账户 %s 在市场 %s 上欠款未还: %s", key.owner.Hex(), key.market, bal.String())
		}
	}
	return nil
}

// State captures ledger and account balances for step-level rewinds.
type State struct {
	ledger   *assets.LedgerSnapshot
	accounts map[acctKey]*big.Int
}

// Rewinder is implemented by in-process pools that can undo a committed
// batch. The engine uses it when a post-batch check fails; on-chain pools
// get the same effect from transaction reverts instead.
type Rewinder interface {
	Checkpoint() *State
	Rewind(*State)
}

// Checkpoint captures the current ledger and account state.
func (p *MemoryPool) Checkpoint() *State {
	return &State{
		ledger:   p.ledger.Snapshot(),
		accounts: p.snapshotAccounts(),
	}
}

// Rewind restores a previously captured state.
func (p *MemoryPool) Rewind(s *State) {
	if s == nil {
		return
	}
	p.ledger.Restore(s.ledger)
	p.mu.Lock()
	clone := make(map[acctKey]*big.Int, len(s.accounts))
	for key, bal := range s.accounts {
		clone[key] = new(big.Int).Set(bal)
	}
	p.accounts = clone
	p.mu.Unlock()
}

func (p *MemoryPool) snapshotAccounts() map[acctKey]*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make(map[acctKey]*big.Int, len(p.accounts))
	for key, bal := range p.accounts {
		clone[key] = new(big.Int).Set(bal)
	}
	return clone
}

func (p *MemoryPool) key(acct AccountRef, marketID *big.Int) acctKey {
	number := "0"
	if acct.Number != nil {
		number = acct.Number.String()
	}
	market := "0"
	if marketID != nil {
		market = marketID.String()
	}
	return acctKey{owner: acct.Owner, number: number, market: market}
}

func validateDelta(amount AssetAmount) error {
	if amount.Ref != RefDelta {
		return errors.New("模拟资金池仅支持 delta 金额")
	}
	if amount.Value == nil || amount.Value.Sign() < 0 {
		return errors.New("金额必须为非负数")
	}
	return nil
}

var (
	_ Ledger   = (*MemoryPool)(nil)
	_ Rewinder = (*MemoryPool)(nil)
)
