package assets

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	bridgeAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

func TestTransferAndAllowance(t *testing.T) {
	ledger := NewMemoryLedger(bridgeAddr)
	ledger.SetBalance(tokenAddr, alice, big.NewInt(100))

	if err := ledger.Transfer(tokenAddr, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("转账失败: %v", err)
	}
	if got := ledger.BalanceOf(tokenAddr, bob); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("接收方余额不一致: %s", got)
	}
	if err := ledger.Transfer(tokenAddr, alice, bob, big.NewInt(1000)); err == nil {
		t.Fatalf("超额转账应当失败")
	}

	// 授权额度随消费递减。
	ledger.Approve(tokenAddr, alice, bob, big.NewInt(50))
	if err := ledger.TransferFrom(tokenAddr, alice, bob, bob, big.NewInt(40)); err != nil {
		t.Fatalf("授权转账失败: %v", err)
	}
	if err := ledger.TransferFrom(tokenAddr, alice, bob, bob, big.NewInt(20)); err == nil {
		t.Fatalf("超出剩余授权额度应当失败")
	}
}

func TestWrapUnwrap(t *testing.T) {
	ledger := NewMemoryLedger(bridgeAddr)
	ledger.SetNative(alice, big.NewInt(100))

	if err := ledger.Wrap(alice, big.NewInt(60)); err != nil {
		t.Fatalf("包装失败: %v", err)
	}
	if got := ledger.BalanceOf(bridgeAddr, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("桥接资产余额不一致: %s", got)
	}
	if got := ledger.NativeBalanceOf(alice); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("原生余额不一致: %s", got)
	}
	if err := ledger.Unwrap(alice, big.NewInt(60)); err != nil {
		t.Fatalf("解包失败: %v", err)
	}
	if got := ledger.NativeBalanceOf(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("解包后原生余额不一致: %s", got)
	}
	if err := ledger.Unwrap(alice, big.NewInt(1)); err == nil {
		t.Fatalf("无桥接余额时解包应当失败")
	}
}

func TestSnapshotRestore(t *testing.T) {
	ledger := NewMemoryLedger(bridgeAddr)
	ledger.SetBalance(tokenAddr, alice, big.NewInt(100))
	ledger.SetNative(alice, big.NewInt(10))

	snap := ledger.Snapshot()

	if err := ledger.Transfer(tokenAddr, alice, bob, big.NewInt(70)); err != nil {
		t.Fatalf("转账失败: %v", err)
	}
	ledger.SetNative(alice, big.NewInt(0))

	ledger.Restore(snap)
	if got := ledger.BalanceOf(tokenAddr, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("恢复后余额不一致: %s", got)
	}
	if got := ledger.NativeBalanceOf(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("恢复后原生余额不一致: %s", got)
	}
	if got := ledger.BalanceOf(tokenAddr, bob); got.Sign() != 0 {
		t.Fatalf("恢复后接收方余额应当清零: %s", got)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ledger := NewMemoryLedger(bridgeAddr)
	ledger.SetBalance(tokenAddr, alice, big.NewInt(100))
	ledger.SetNative(alice, big.NewInt(50))
	registry := NewMemoryRegistry(ledger, alice)
	ctx := context.Background()

	handle, err := registry.Token(tokenAddr)
	if err != nil {
		t.Fatalf("解析代币失败: %v", err)
	}
	if err := handle.Transfer(ctx, bob, big.NewInt(25)); err != nil {
		t.Fatalf("代币转账失败: %v", err)
	}
	got, err := handle.BalanceOf(ctx, alice)
	if err != nil || got.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("代币余额不一致: %v %v", got, err)
	}
	if _, err := registry.Token(common.Address{}); err == nil {
		t.Fatalf("零地址代币应当被拒绝")
	}

	bridge := registry.Bridge()
	if bridge.Address() != bridgeAddr {
		t.Fatalf("桥接资产地址不一致: %s", bridge.Address().Hex())
	}
	if err := bridge.Wrap(ctx, big.NewInt(50)); err != nil {
		t.Fatalf("包装失败: %v", err)
	}
	native, err := registry.NativeBalance(ctx)
	if err != nil || native.Sign() != 0 {
		t.Fatalf("包装后原生余额应当清零: %v %v", native, err)
	}
}
