package flashloan

import (
	"context"
	"math/big"
	"strings"

	xerrors "FlashRoute/internal/errors"
	"FlashRoute/internal/journal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SubOpRequest 描述代理阶段要执行的一笔外部调用。
type SubOpRequest struct {
	Target  string `json:"target"`
	Payload string `json:"payload"`
}

// Request 是一次闪电贷步骤的外部输入。
type Request struct {
	Route   string         `json:"route"`
	Tokens  []string       `json:"tokens"`
	Amounts []string       `json:"amounts"`
	Agent   string         `json:"agent"`
	SubOps  []SubOpRequest `json:"sub_ops"`
}

// Runner 将外部请求转换为引擎调用，并负责步骤记录的落盘与终态。
type Runner struct {
	orch    *Orchestrator
	journal *journal.Service
}

// NewRunner 创建请求执行器。
func NewRunner(orch *Orchestrator, svc *journal.Service) *Runner {
	return &Runner{orch: orch, journal: svc}
}

// Run 解析请求、登记步骤并执行。步骤的终态与错误码随结果落盘。
func (r *Runner) Run(ctx context.Context, req Request) (*journal.Step, error) {
	route, err := ParseRoute(req.Route)
	if err != nil {
		return nil, err
	}

	tokens := make([]common.Address, 0, len(req.Tokens))
	for _, raw := range req.Tokens {
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的代币地址: "+raw)
		}
		tokens = append(tokens, common.HexToAddress(raw))
	}

	amounts := make([]*big.Int, 0, len(req.Amounts))
	for _, raw := range req.Amounts {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的借贷数量: "+raw)
		}
		amounts = append(amounts, amount)
	}

	var agent common.Address
	if req.Agent != "" {
		if !common.IsHexAddress(req.Agent) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的代理地址: "+req.Agent)
		}
		agent = common.HexToAddress(req.Agent)
	}

	subOps := make([]SubOperation, 0, len(req.SubOps))
	for _, op := range req.SubOps {
		if !common.IsHexAddress(op.Target) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的调用目标: "+op.Target)
		}
		payload, err := hexutil.Decode(op.Payload)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "非法的调用数据")
		}
		subOps = append(subOps, SubOperation{Target: common.HexToAddress(op.Target), Payload: payload})
	}

	packed, err := EncodeSubOps(subOps)
	if err != nil {
		return nil, err
	}
	data, err := EncodeCallerData(agent, packed)
	if err != nil {
		return nil, err
	}

	step, err := r.journal.Begin(ctx, route.String(), req.Tokens, req.Amounts, agent.Hex(), r.orch.Fee().String())
	if err != nil {
		return nil, err
	}

	if runErr := r.orch.Initiate(ctx, tokens, amounts, route, data); runErr != nil {
		code := string(xerrors.CodeOf(runErr))
		if abortErr := r.journal.Abort(ctx, step.ID, code, runErr.Error()); abortErr != nil {
			return nil, abortErr
		}
		final, getErr := r.journal.Get(ctx, step.ID)
		if getErr != nil {
			return nil, getErr
		}
		return final, runErr
	}

	if err := r.journal.Commit(ctx, step.ID); err != nil {
		return nil, err
	}
	return r.journal.Get(ctx, step.ID)
}
