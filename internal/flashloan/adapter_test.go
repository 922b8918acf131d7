package flashloan

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type recordedCall struct {
	target common.Address
	data   []byte
}

// recordingExecutor 记录受托执行的每一次调用。
type recordingExecutor struct {
	calls []recordedCall
	err   error
}

func (e *recordingExecutor) DelegateCall(_ context.Context, target common.Address, data []byte) error {
	if e.err != nil {
		return e.err
	}
	e.calls = append(e.calls, recordedCall{target: target, data: append([]byte(nil), data...)})
	return nil
}

func TestAdapterRejectsZeroTarget(t *testing.T) {
	exec := &recordingExecutor{}
	if _, err := NewVaultAdapter(common.Address{}, exec); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("金库适配器应当拒绝零地址: %v", err)
	}
	if _, err := NewLendingPoolAdapter(common.Address{}, exec); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("资金池适配器应当拒绝零地址: %v", err)
	}
}

func TestVaultAdapterCalldata(t *testing.T) {
	exec := &recordingExecutor{}
	target := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	asset := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	adapter, err := NewVaultAdapter(target, exec)
	if err != nil {
		t.Fatalf("构造金库适配器失败: %v", err)
	}

	ctx := context.Background()
	if err := adapter.Deposit(ctx, asset, big.NewInt(7)); err != nil {
		t.Fatalf("Deposit 失败: %v", err)
	}
	if err := adapter.Borrow(ctx, asset, big.NewInt(9)); err != nil {
		t.Fatalf("Borrow 失败: %v", err)
	}
	if err := adapter.Payback(ctx, asset, AmountAll); err != nil {
		t.Fatalf("Payback 失败: %v", err)
	}
	if err := adapter.Withdraw(ctx, asset, AmountAll); err != nil {
		t.Fatalf("Withdraw 失败: %v", err)
	}

	if len(exec.calls) != 4 {
		t.Fatalf("调用次数不一致: %d", len(exec.calls))
	}
	wantSelectors := [][]byte{
		selector("lock(address,uint256)"),
		selector("draw(address,uint256)"),
		selector("wipe(address,uint256)"),
		selector("free(address,uint256)"),
	}
	for i, call := range exec.calls {
		if call.target != target {
			t.Fatalf("调用 %d 目标不一致: %s", i, call.target.Hex())
		}
		if !bytes.Equal(call.data[:4], wantSelectors[i]) {
			t.Fatalf("调用 %d 选择子不一致: %x", i, call.data[:4])
		}
		// selector(4) + address(32) + uint256(32)
		if len(call.data) != 68 {
			t.Fatalf("调用 %d 数据长度异常: %d", i, len(call.data))
		}
	}
}

func TestLendingPoolAdapterCalldata(t *testing.T) {
	exec := &recordingExecutor{}
	target := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	asset := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	adapter, err := NewLendingPoolAdapter(target, exec)
	if err != nil {
		t.Fatalf("构造资金池适配器失败: %v", err)
	}

	ctx := context.Background()
	if err := adapter.Deposit(ctx, asset, big.NewInt(1)); err != nil {
		t.Fatalf("Deposit 失败: %v", err)
	}
	if err := adapter.Payback(ctx, asset, AmountAll); err != nil {
		t.Fatalf("Payback 失败: %v", err)
	}

	if len(exec.calls) != 2 {
		t.Fatalf("调用次数不一致: %d", len(exec.calls))
	}
	if !bytes.Equal(exec.calls[0].data[:4], selector("deposit(address,uint256)")) {
		t.Fatalf("Deposit 选择子不一致: %x", exec.calls[0].data[:4])
	}
	if !bytes.Equal(exec.calls[1].data[:4], selector("payback(address,uint256)")) {
		t.Fatalf("Payback 选择子不一致: %x", exec.calls[1].data[:4])
	}
}
