package flashloan

import (
	"fmt"
	"math/big"

	xerrors "FlashRoute/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Plan 是穿越资金池回调边界的完整操作计划。它在 Initiate 内编码为不透明字节串，
// 在回调内原样解码；资金池只把它当作 bytes，因此往返保真是硬性正确性要求。
type Plan struct {
	Agent   common.Address
	Route   Route
	Tokens  []common.Address
	Amounts []*big.Int
	SubOps  []byte
}

// SubOperation 是交给目标代理执行的一条 {target, payload} 指令。
// 编排器只负责转运，从不解释其语义。
type SubOperation struct {
	Target  common.Address `json:"target"`
	Payload []byte         `json:"payload"`
}

// 以 ABI 编码作为线格式，与资金池生态的其他字节边界保持一致。
var (
	planArguments = abi.Arguments{
		{Name: "agent", Type: mustABIType("address")},
		{Name: "route", Type: mustABIType("uint8")},
		{Name: "tokens", Type: mustABIType("address[]")},
		{Name: "amounts", Type: mustABIType("uint256[]")},
		{Name: "subOps", Type: mustABIType("bytes")},
	}
	subOpsArguments = abi.Arguments{
		{Name: "targets", Type: mustABIType("address[]")},
		{Name: "payloads", Type: mustABIType("bytes[]")},
	}
	callerArguments = abi.Arguments{
		{Name: "agent", Type: mustABIType("address")},
		{Name: "subOps", Type: mustABIType("bytes")},
	}
)

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodePlan 将计划编码为资金池回调携带的不透明载荷。
func EncodePlan(agent common.Address, route Route, tokens []common.Address, amounts []*big.Int, subOps []byte) ([]byte, error) {
	if tokens == nil {
		tokens = []common.Address{}
	}
	if amounts == nil {
		amounts = []*big.Int{}
	}
	if subOps == nil {
		subOps = []byte{}
	}
	data, err := planArguments.Pack(agent, uint8(route), tokens, amounts, subOps)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "计划编码失败")
	}
	return data, nil
}

// DecodePlan 从不透明载荷中还原计划。
func DecodePlan(data []byte) (Plan, error) {
	values, err := planArguments.Unpack(data)
	if err != nil {
		return Plan{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "计划解码失败")
	}
	if len(values) != 5 {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("计划字段数量异常: %d", len(values)))
	}

	plan := Plan{}
	var ok bool
	if plan.Agent, ok = values[0].(common.Address); !ok {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, "计划 agent 字段类型异常")
	}
	routeValue, ok := values[1].(uint8)
	if !ok {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, "计划 route 字段类型异常")
	}
	plan.Route = Route(routeValue)
	if plan.Tokens, ok = values[2].([]common.Address); !ok {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, "计划 tokens 字段类型异常")
	}
	if plan.Amounts, ok = values[3].([]*big.Int); !ok {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, "计划 amounts 字段类型异常")
	}
	if plan.SubOps, ok = values[4].([]byte); !ok {
		return Plan{}, xerrors.New(xerrors.CodeInvalidArgument, "计划 subOps 字段类型异常")
	}
	return plan, nil
}

// EncodeSubOps 将 {target, payload} 列表编码为嵌套载荷。由原始调用方提供、
// 编排器重新打包进计划，语义不做校验。
func EncodeSubOps(subOps []SubOperation) ([]byte, error) {
	targets := make([]common.Address, len(subOps))
	payloads := make([][]byte, len(subOps))
	for i, op := range subOps {
		targets[i] = op.Target
		payloads[i] = op.Payload
		if payloads[i] == nil {
			payloads[i] = []byte{}
		}
	}
	data, err := subOpsArguments.Pack(targets, payloads)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "子操作编码失败")
	}
	return data, nil
}

// DecodeSubOps 从嵌套载荷中还原 (targets, payloads)。
func DecodeSubOps(data []byte) ([]common.Address, [][]byte, error) {
	values, err := subOpsArguments.Unpack(data)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "子操作解码失败")
	}
	targets, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "子操作 targets 字段类型异常")
	}
	payloads, ok := values[1].([][]byte)
	if !ok {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "子操作 payloads 字段类型异常")
	}
	return targets, payloads, nil
}

// EncodeCallerData 编码 Initiate 的 data 参数：(目标代理, 子操作载荷)。
func EncodeCallerData(agent common.Address, subOps []byte) ([]byte, error) {
	if subOps == nil {
		subOps = []byte{}
	}
	data, err := callerArguments.Pack(agent, subOps)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "调用方数据编码失败")
	}
	return data, nil
}

// DecodeCallerData 解码 Initiate 的 data 参数。
func DecodeCallerData(data []byte) (common.Address, []byte, error) {
	values, err := callerArguments.Unpack(data)
	if err != nil {
		return common.Address{}, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "调用方数据解码失败")
	}
	agent, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, xerrors.New(xerrors.CodeInvalidArgument, "调用方 agent 字段类型异常")
	}
	subOps, ok := values[1].([]byte)
	if !ok {
		return common.Address{}, nil, xerrors.New(xerrors.CodeInvalidArgument, "调用方 subOps 字段类型异常")
	}
	return agent, subOps, nil
}
