package flashloan

import (
	"context"

	xerrors "FlashRoute/internal/errors"
	"FlashRoute/internal/evm"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// chainExecutor 通过 EVM 客户端落实受托执行。引擎账户对目标地址发起一笔
// 携带原始 calldata 的交易。
type chainExecutor struct {
	client *evm.Client
}

// NewChainExecutor 创建链上受托执行器。
func NewChainExecutor(client *evm.Client) Executor {
	return chainExecutor{client: client}
}

func (e chainExecutor) DelegateCall(ctx context.Context, target common.Address, data []byte) error {
	_, err := e.client.Send(ctx, target, nil, data)
	return err
}

// chainInvoker 在 rpc 模式下把子操作转交给代理合约执行。
type chainInvoker struct {
	client *evm.Client
}

// NewChainInvoker 创建链上代理调用器。
func NewChainInvoker(client *evm.Client) AgentInvoker {
	return chainInvoker{client: client}
}

var agentExecuteArguments = abi.Arguments{
	{Name: "targets", Type: mustABIType("address[]")},
	{Name: "payloads", Type: mustABIType("bytes[]")},
	{Name: "origin", Type: mustABIType("address")},
}

// packAgentExecute 构造代理合约 execute(address[],bytes[],address) 的完整
// calldata。origin 固定为引擎地址，代理合约据此辨认受信调用来源。
func packAgentExecute(targets []common.Address, payloads [][]byte, origin common.Address) ([]byte, error) {
	if payloads == nil {
		payloads = [][]byte{}
	}
	for i, payload := range payloads {
		if payload == nil {
			payloads[i] = []byte{}
		}
	}
	args, err := agentExecuteArguments.Pack(targets, payloads, origin)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "代理调用参数编码失败")
	}
	return append(selector("execute(address[],bytes[],address)"), args...), nil
}

func (i chainInvoker) Invoke(ctx context.Context, agent common.Address, targets []common.Address, payloads [][]byte, origin common.Address) error {
	if agent != (common.Address{}) {
		// 代理模式：整批子操作连同来源标记交给代理合约入口。
		data, err := packAgentExecute(targets, payloads, origin)
		if err != nil {
			return err
		}
		_, err = i.client.Send(ctx, agent, nil, data)
		return err
	}
	for idx, target := range targets {
		if _, err := i.client.Send(ctx, target, nil, payloads[idx]); err != nil {
			return err
		}
	}
	return nil
}
