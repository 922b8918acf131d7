package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger keeps token, allowance and native balances in memory. It backs
// the simulated primary pool and every test in the engine; the pool snapshots
// and restores it to provide all-or-nothing batches.
type MemoryLedger struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int // token -> owner -> balance
	allowances map[common.Address]map[[2]common.Address]*big.Int
	native     map[common.Address]*big.Int
	bridge     common.Address
}

// NewMemoryLedger creates an empty ledger with the given bridge token address.
func NewMemoryLedger(bridge common.Address) *MemoryLedger {
	return &MemoryLedger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[[2]common.Address]*big.Int),
		native:     make(map[common.Address]*big.Int),
		bridge:     bridge,
	}
}

// BridgeToken returns the address configured as the wrapped native asset.
func (l *MemoryLedger) BridgeToken() common.Address {
	return l.bridge
}

// SetBalance overwrites a token balance. Intended for test and dev seeding.
func (l *MemoryLedger) SetBalance(token, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureToken(token)[owner] = new(big.Int).Set(amount)
}

// SetNative overwrites a native balance.
func (l *MemoryLedger) SetNative(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[owner] = new(big.Int).Set(amount)
}

// BalanceOf reads a token balance.
func (l *MemoryLedger) BalanceOf(token, owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(token, owner))
}

// NativeBalanceOf reads a native balance.
func (l *MemoryLedger) NativeBalanceOf(owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.native[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves a token balance between owners.
func (l *MemoryLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(token, from, to, amount)
}

// TransferNative moves a native balance between owners.
func (l *MemoryLedger) TransferNative(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferNativeLocked(from, to, amount)
}

// Approve records an allowance from owner to spender.
func (l *MemoryLedger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	allow, ok := l.allowances[token]
	if !ok {
		allow = make(map[[2]common.Address]*big.Int)
		l.allowances[token] = allow
	}
	allow[[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
}

// TransferFrom moves a token balance consuming the owner's allowance.
func (l *MemoryLedger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allow := l.allowances[token]
	key := [2]common.Address{owner, spender}
	granted, ok := allow[key]
	if !ok || granted.Cmp(amount) < 0 {
		return fmt.Errorf("授权额度不足: token=%s owner=%s", token.Hex(), owner.Hex())
	}
	if err := l.transferLocked(token, owner, to, amount); err != nil {
		return err
	}
	allow[key] = new(big.Int).Sub(granted, amount)
	return nil
}

// Wrap converts native balance into bridge-token balance.
func (l *MemoryLedger) Wrap(owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	have := l.native[owner]
	if have == nil || have.Cmp(amount) < 0 {
		return errors.New("原生资产余额不足，无法包装")
	}
	l.native[owner] = new(big.Int).Sub(have, amount)
	bals := l.ensureToken(l.bridge)
	bals[owner] = new(big.Int).Add(l.balance(l.bridge, owner), amount)
	return nil
}

// Unwrap converts bridge-token balance back into native balance.
func (l *MemoryLedger) Unwrap(owner common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.subLocked(l.bridge, owner, amount); err != nil {
		return err
	}
	have := l.native[owner]
	if have == nil {
		have = new(big.Int)
	}
	l.native[owner] = new(big.Int).Add(have, amount)
	return nil
}

// Snapshot captures the full ledger state for later restore.
func (l *MemoryLedger) Snapshot() *LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := &LedgerSnapshot{
		balances:   make(map[common.Address]map[common.Address]*big.Int, len(l.balances)),
		allowances: make(map[common.Address]map[[2]common.Address]*big.Int, len(l.allowances)),
		native:     make(map[common.Address]*big.Int, len(l.native)),
	}
	for token, owners := range l.balances {
		clone := make(map[common.Address]*big.Int, len(owners))
		for owner, bal := range owners {
			clone[owner] = new(big.Int).Set(bal)
		}
		snap.balances[token] = clone
	}
	for token, grants := range l.allowances {
		clone := make(map[[2]common.Address]*big.Int, len(grants))
		for key, amount := range grants {
			clone[key] = new(big.Int).Set(amount)
		}
		snap.allowances[token] = clone
	}
	for owner, bal := range l.native {
		snap.native[owner] = new(big.Int).Set(bal)
	}
	return snap
}

// Restore rewinds the ledger to a previously captured snapshot.
func (l *MemoryLedger) Restore(snap *LedgerSnapshot) {
	if snap == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.native = snap.native
}

// LedgerSnapshot is an opaque copy of ledger state.
type LedgerSnapshot struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int
	native     map[common.Address]*big.Int
}

func (l *MemoryLedger) ensureToken(token common.Address) map[common.Address]*big.Int {
	bals, ok := l.balances[token]
	if !ok {
		bals = make(map[common.Address]*big.Int)
		l.balances[token] = bals
	}
	return bals
}

func (l *MemoryLedger) balance(token, owner common.Address) *big.Int {
	if bals, ok := l.balances[token]; ok {
		if b, ok := bals[owner]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (l *MemoryLedger) transferLocked(token, from, to common.Address, amount *big.Int) error {
	if err := l.subLocked(token, from, amount); err != nil {
		return err
	}
	bals := l.ensureToken(token)
	bals[to] = new(big.Int).Add(l.balance(token, to), amount)
	return nil
}

func (l *MemoryLedger) transferNativeLocked(from, to common.Address, amount *big.Int) error {
	have := l.native[from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("原生资产余额不足: %s", from.Hex())
	}
	l.native[from] = new(big.Int).Sub(have, amount)
	dest := l.native[to]
	if dest == nil {
		dest = new(big.Int)
	}
	l.native[to] = new(big.Int).Add(dest, amount)
	return nil
}

func (l *MemoryLedger) subLocked(token, owner common.Address, amount *big.Int) error {
	have := l.balance(token, owner)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("代币余额不足: token=%s owner=%s", token.Hex(), owner.Hex())
	}
	l.ensureToken(token)[owner] = new(big.Int).Sub(have, amount)
	return nil
}

// MemoryRegistry adapts a MemoryLedger to the Registry interface, scoped to
// the engine identity.
type MemoryRegistry struct {
	ledger *MemoryLedger
	self   common.Address
}

// NewMemoryRegistry creates a registry acting on behalf of self.
func NewMemoryRegistry(ledger *MemoryLedger, self common.Address) *MemoryRegistry {
	return &MemoryRegistry{ledger: ledger, self: self}
}

// Token implements Registry.
func (r *MemoryRegistry) Token(addr common.Address) (Token, error) {
	if addr == (common.Address{}) {
		return nil, errors.New("代币地址不能为空")
	}
	return &memoryToken{ledger: r.ledger, addr: addr, self: r.self}, nil
}

// Bridge implements Registry.
func (r *MemoryRegistry) Bridge() WrappedNative {
	return &memoryToken{ledger: r.ledger, addr: r.ledger.BridgeToken(), self: r.self}
}

// NativeBalance implements Registry.
func (r *MemoryRegistry) NativeBalance(context.Context) (*big.Int, error) {
	return r.ledger.NativeBalanceOf(r.self), nil
}

// TransferNative implements Registry.
func (r *MemoryRegistry) TransferNative(_ context.Context, to common.Address, amount *big.Int) error {
	return r.ledger.TransferNative(r.self, to, amount)
}

type memoryToken struct {
	ledger *MemoryLedger
	addr   common.Address
	self   common.Address
}

func (t *memoryToken) Address() common.Address { return t.addr }

func (t *memoryToken) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	return t.ledger.BalanceOf(t.addr, owner), nil
}

func (t *memoryToken) Approve(_ context.Context, spender common.Address, amount *big.Int) error {
	t.ledger.Approve(t.addr, t.self, spender, amount)
	return nil
}

func (t *memoryToken) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	return t.ledger.Transfer(t.addr, t.self, to, amount)
}

func (t *memoryToken) Wrap(_ context.Context, amount *big.Int) error {
	return t.ledger.Wrap(t.self, amount)
}

func (t *memoryToken) Unwrap(_ context.Context, amount *big.Int) error {
	return t.ledger.Unwrap(t.self, amount)
}

var (
	_ Registry      = (*MemoryRegistry)(nil)
	_ WrappedNative = (*memoryToken)(nil)
)
