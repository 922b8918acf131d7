package evm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSimulatedClientSendAndRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000d9")

	chainID := big.NewInt(1337)
	funds, _ := new(big.Int).SetString("1000000000000000000", 10)
	alloc := core.GenesisAlloc{
		from: {Balance: funds},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, key, backend)
	t.Cleanup(client.Close)

	if client.From() != from {
		t.Fatalf("unexpected sender %s", client.From().Hex())
	}
	if client.ChainID().Cmp(chainID) != 0 {
		t.Fatalf("unexpected chain id %s", client.ChainID())
	}

	snapshot, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}

	balance, err := client.BalanceAt(ctx, from)
	if err != nil {
		t.Fatalf("balance at: %v", err)
	}
	if balance.Cmp(funds) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}

	// Send blocks until the transaction is mined, so mining runs alongside.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	value := big.NewInt(12_345)
	receipt, err := client.Send(ctx, recipient, value, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		t.Fatalf("expected mined receipt, got %+v", receipt)
	}

	got, err := client.BalanceAt(ctx, recipient)
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if got.Cmp(value) != 0 {
		t.Fatalf("unexpected recipient balance %s", got)
	}

	out, err := client.Call(ctx, recipient, nil)
	if err != nil {
		t.Fatalf("read-only call: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty return data, got %x", out)
	}
}

func TestClientRequiresKeyForSend(t *testing.T) {
	t.Parallel()

	chainID := big.NewInt(1337)
	backend := backends.NewSimulatedBackend(core.GenesisAlloc{}, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, nil, backend)
	t.Cleanup(client.Close)

	if _, err := client.Send(context.Background(), common.HexToAddress("0x01"), nil, nil); err == nil {
		t.Fatal("expected send without key to fail")
	}
}
