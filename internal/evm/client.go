// Package evm wraps the go-ethereum client with the small surface the
// engine needs: read-only contract calls, signed state-changing calls,
// and chain metadata.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name       string
	RPCURL     string
	PrivateKey string
	GasLimit   uint64
}

// ChainSnapshot carries lightweight metadata about the connected chain.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// Client implements chain access for EVM compatible networks.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   chainBackend
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	gasLimit  uint64
	mu        sync.Mutex
}

// chainBackend mirrors the subset of node methods the client relies on, so a
// simulated backend can stand in for a live RPC connection.
type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		chainID:   chainID,
		gasLimit:  cfg.GasLimit,
	}
	if client.gasLimit == 0 {
		client.gasLimit = 3_000_000
	}

	if keyHex := strings.TrimSpace(cfg.PrivateKey); keyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		client.key = key
		client.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, key *ecdsa.PrivateKey, backend *backends.SimulatedBackend) *Client {
	client := &Client{
		name:     name,
		backend:  backend,
		chainID:  new(big.Int).Set(chainID),
		gasLimit: 3_000_000,
	}
	if key != nil {
		client.key = key
		client.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
		c.backend = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// From returns the transaction sender address, zero when no key is loaded.
func (c *Client) From() common.Address {
	return c.from
}

// ChainID returns the connected chain identifier.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Snapshot gathers chain metadata for diagnostics.
func (c *Client) Snapshot(ctx context.Context) (ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return ChainSnapshot{
		Name:        c.name,
		ChainID:     "0x" + c.chainID.Text(16),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
	}, nil
}

// Call performs a read-only contract call.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	msg := gethcore.CallMsg{From: c.from, To: &to, Data: data}
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("合约调用失败: %w", err)
	}
	return out, nil
}

// BalanceAt returns the native balance of the given address.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	return c.backend.BalanceAt(ctx, addr, nil)
}

// Send signs a state-changing call and waits for it to be mined. The value
// parameter may be nil for plain contract calls.
func (c *Client) Send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*coretypes.Receipt, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if c.key == nil {
		return nil, errors.New("未配置交易私钥")
	}

	// Serialize sends so nonce allocation stays consistent.
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 gas price 失败: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("发送交易失败: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return nil, fmt.Errorf("等待交易上链失败: %w", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("交易执行失败: %s", signed.Hash().Hex())
	}
	return receipt, nil
}
