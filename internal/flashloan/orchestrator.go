package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"FlashRoute/internal/assets"
	xerrors "FlashRoute/internal/errors"
	"FlashRoute/internal/pool"
	"FlashRoute/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// AgentInvoker 负责把子操作交给目标代理执行。生产环境中这是一次对代理地址的
// 链上调用，测试中是进程内替身。代理执行的内容对本系统完全不透明。
type AgentInvoker interface {
	Invoke(ctx context.Context, agent common.Address, targets []common.Address, payloads [][]byte, origin common.Address) error
}

// 结算常量。费率与容差都以 1e18 为 100% 的定点数表示。
var (
	// repayMargin 是归还腿额外附加的固定盈余，用来吸收取整灰尘。
	repayMargin = big.NewInt(2)
	// dustTolerance 是零费率下允许的余额亏损上限（原始单位）。
	dustTolerance = big.NewInt(5)
	// feeScale 定义 1e18 = 100%。
	feeScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// 费用校验的 ±0.05% 容差带。
	feeTolLow  = big.NewInt(9995)
	feeTolHigh = big.NewInt(10005)
	feeTolDen  = big.NewInt(10000)
	// 杠杆路由按资金池可用流动性的 99.9% 借出桥接资产。
	liquidityNum = big.NewInt(999)
	liquidityDen = big.NewInt(1000)
)

// accountNumber 是编排器在主资金池内固定使用的账户序号。
// 编排器永远只操作自己名下的这一个账户。
var accountNumber = big.NewInt(1)

// Orchestrator 是闪电贷编排引擎：入口 Initiate 构造批量操作并提交给主资金池，
// 资金池在批内同步回调 CallFunction，回调把借到的资产交给目标代理执行任意策略，
// 批量提交前资金池校验归还腿，批量提交后编排器校验费用不变量。
// 任意一步失败都会使整个原子步骤回滚。
type Orchestrator struct {
	self     common.Address
	operator common.Address
	poolAddr common.Address
	pool     pool.Ledger
	assets   assets.Registry
	resolver *Resolver
	invoker  AgentInvoker
	exec     Executor
	log      *slog.Logger

	feeMu sync.RWMutex
	fee   *big.Int
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithFee 设置初始费率（1e18 = 100%）。
func WithFee(fee *big.Int) Option {
	return func(o *Orchestrator) {
		if fee != nil {
			o.fee = new(big.Int).Set(fee)
		}
	}
}

// WithExecutor 设置管理员逃生舱使用的受托执行原语。
func WithExecutor(exec Executor) Option {
	return func(o *Orchestrator) {
		o.exec = exec
	}
}

// WithLogger 覆盖默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// New 创建编排器。self 是引擎在资金池内的身份，operator 是唯一的管理员身份，
// poolAddr 是主资金池持有流动性的地址。
func New(self, operator, poolAddr common.Address, ledger pool.Ledger, registry assets.Registry, resolver *Resolver, invoker AgentInvoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		self:     self,
		operator: operator,
		poolAddr: poolAddr,
		pool:     ledger,
		assets:   registry,
		resolver: resolver,
		invoker:  invoker,
		log:      logger.Named("flashloan"),
		fee:      new(big.Int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Self 返回编排器在资金池内的身份地址。
func (o *Orchestrator) Self() common.Address { return o.self }

// Fee 返回当前费率的副本。
func (o *Orchestrator) Fee() *big.Int {
	o.feeMu.RLock()
	defer o.feeMu.RUnlock()
	return new(big.Int).Set(o.fee)
}

// SetFee 更新费率，仅限管理员。更新为当前值视为误操作并拒绝。
func (o *Orchestrator) SetFee(caller common.Address, fee *big.Int) error {
	if caller != o.operator {
		return ErrNotSameSender
	}
	if fee == nil || fee.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "费率必须为非负数")
	}
	o.feeMu.Lock()
	defer o.feeMu.Unlock()
	if o.fee.Cmp(fee) == 0 {
		return ErrSameFeeRejected
	}
	o.log.Info("费率已更新", slog.String("old", o.fee.String()), slog.String("new", fee.String()))
	o.fee = new(big.Int).Set(fee)
	return nil
}

// AdminCall 是管理员逃生舱：以引擎身份向任意目标发起一次受托调用。
func (o *Orchestrator) AdminCall(ctx context.Context, caller, target common.Address, data []byte) error {
	if caller != o.operator {
		return ErrNotSameSender
	}
	if target == (common.Address{}) {
		return ErrInvalidTarget
	}
	if o.exec == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "受托执行原语未配置")
	}
	return o.exec.DelegateCall(ctx, target, data)
}

// Initiate 发起一次闪电贷。tokens 与 amounts 一一对应；data 是调用方提供的
// 不透明载荷，内含目标代理与子操作。批量提交会同步驱动 CallFunction 回调，
// Initiate 返回即整个原子步骤已提交或已回滚。
func (o *Orchestrator) Initiate(ctx context.Context, tokens []common.Address, amounts []*big.Int, route Route, data []byte) error {
	if len(tokens) != len(amounts) {
		return xerrors.New(xerrors.CodeInvalidArgument, "tokens 与 amounts 长度不一致")
	}
	for i, amount := range amounts {
		if amount == nil || amount.Sign() < 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("金额 %d 非法", i))
		}
	}
	// 路由必须在任何余额操作之前完成校验。
	if !o.resolver.Has(route) {
		return xerrors.Wrap(CodeRouteNotFound, nil, fmt.Sprintf("路由 %s 不可用", route))
	}

	agent, subOps, err := DecodeCallerData(data)
	if err != nil {
		return err
	}
	planBytes, err := EncodePlan(agent, route, tokens, amounts, subOps)
	if err != nil {
		return err
	}

	o.log.Info("闪电贷开始",
		slog.String("route", route.String()),
		slog.Int("tokens", len(tokens)),
		slog.String("agent", agent.Hex()),
	)

	if route.Leveraged() {
		err = o.runLeveraged(ctx, tokens, amounts, planBytes)
	} else {
		err = o.runDirect(ctx, tokens, amounts, planBytes)
	}
	if err != nil {
		o.log.Warn("闪电贷中止", slog.String("route", route.String()), slog.Any("error", err))
		return err
	}
	o.log.Info("闪电贷提交", slog.String("route", route.String()))
	return nil
}

// runDirect 执行直借策略：逐个资产从主资金池借出，回调后逐个归还本金加盈余。
func (o *Orchestrator) runDirect(ctx context.Context, tokens []common.Address, amounts []*big.Int, planBytes []byte) error {
	rewind := o.checkpoint()

	n := len(tokens)
	marketIDs := make([]*big.Int, n)
	handles := make([]assets.Token, n)
	pre := make([]*big.Int, n)

	for i, token := range tokens {
		// 请求原生资产时按桥接资产的市场与余额结算。
		if token == assets.NativeMarker {
			token = o.assets.Bridge().Address()
		}
		marketID, err := o.lookupMarket(ctx, token)
		if err != nil {
			return err
		}
		marketIDs[i] = marketID

		handle, err := o.assets.Token(token)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析代币")
		}
		handles[i] = handle

		// 归还腿含固定盈余，授权额度同样放大。
		if err := handle.Approve(ctx, o.poolAddr, new(big.Int).Add(amounts[i], repayMargin)); err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "授权资金池失败")
		}
		balance, err := handle.BalanceOf(ctx, o.self)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取余额失败")
		}
		pre[i] = balance
	}

	ops := make([]pool.Operation, 0, 2*n+1)
	for i := range tokens {
		ops = append(ops, withdrawAction(marketIDs[i], amounts[i], o.self))
	}
	ops = append(ops, callAction(planBytes, o.self))
	for i := range tokens {
		ops = append(ops, depositAction(marketIDs[i], new(big.Int).Add(amounts[i], repayMargin), o.self))
	}

	if err := o.pool.Operate(ctx, []pool.AccountRef{o.accountRef()}, ops); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "批量操作未提交")
	}

	if err := o.verifyAll(ctx, tokens, amounts, handles, pre); err != nil {
		rewind()
		return err
	}
	return nil
}

// runLeveraged 执行杠杆策略：从主资金池借出桥接资产（而非请求资产），
// 请求资产由回调内的二级协议提供。费用不变量仍按请求资产校验。
func (o *Orchestrator) runLeveraged(ctx context.Context, tokens []common.Address, amounts []*big.Int, planBytes []byte) error {
	rewind := o.checkpoint()

	bridge := o.assets.Bridge()

	liquidity, err := bridge.BalanceOf(ctx, o.poolAddr)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取资金池流动性失败")
	}
	// 略低于全部流动性，避免借出请求超过资金池可贷上限。
	bridgeAmount := new(big.Int).Div(new(big.Int).Mul(liquidity, liquidityNum), liquidityDen)

	bridgeMarket, err := o.lookupMarket(ctx, bridge.Address())
	if err != nil {
		return err
	}
	if err := bridge.Approve(ctx, o.poolAddr, new(big.Int).Add(bridgeAmount, repayMargin)); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "授权资金池失败")
	}

	n := len(tokens)
	handles := make([]assets.Token, n)
	pre := make([]*big.Int, n)
	for i, token := range tokens {
		if token == assets.NativeMarker {
			token = bridge.Address()
		}
		handle, err := o.assets.Token(token)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析代币")
		}
		handles[i] = handle
		balance, err := handle.BalanceOf(ctx, o.self)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取余额失败")
		}
		pre[i] = balance
	}

	ops := []pool.Operation{
		withdrawAction(bridgeMarket, bridgeAmount, o.self),
		callAction(planBytes, o.self),
		depositAction(bridgeMarket, new(big.Int).Add(bridgeAmount, repayMargin), o.self),
	}

	if err := o.pool.Operate(ctx, []pool.AccountRef{o.accountRef()}, ops); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "批量操作未提交")
	}

	if err := o.verifyAll(ctx, tokens, amounts, handles, pre); err != nil {
		rewind()
		return err
	}
	return nil
}

// checkpoint 捕获可回滚资金池的当前状态。费用不变量在批量提交后才可校验，
// 校验失败时必须把整个步骤退回提交前。链上资金池依赖交易回滚，返回空操作。
func (o *Orchestrator) checkpoint() func() {
	if rw, ok := o.pool.(pool.Rewinder); ok {
		state := rw.Checkpoint()
		return func() { rw.Rewind(state) }
	}
	return func() {}
}

// CallFunction 是主资金池在批内同步发起的回调。sender 必须是编排器自身，
// 其他任何调用方一律拒绝。回调内完成二级协议借出、资产分发、代理执行与
// 二级协议偿还；任何失败都会使外层批量整体回滚。
func (o *Orchestrator) CallFunction(ctx context.Context, sender common.Address, _ pool.AccountRef, data []byte) error {
	if sender != o.self {
		return xerrors.Wrap(CodeNotSameSender, nil, fmt.Sprintf("回调来自 %s", sender.Hex()))
	}

	plan, err := DecodePlan(data)
	if err != nil {
		return err
	}

	// 杠杆路由在这里把桥接资产抵押进二级协议并借出请求资产，
	// 直借路由是空操作。桥接资产保持包装形态作为抵押品。
	if err := o.resolver.Borrow(ctx, plan.Route, plan.Tokens, plan.Amounts); err != nil {
		return err
	}

	bridge := o.assets.Bridge()
	for i, token := range plan.Tokens {
		amount := plan.Amounts[i]
		if token == assets.NativeMarker {
			// 请求原生资产时把持有的桥接资产解包后再分发。
			bridgeBalance, err := bridge.BalanceOf(ctx, o.self)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取桥接资产余额失败")
			}
			if bridgeBalance.Sign() > 0 {
				if err := bridge.Unwrap(ctx, bridgeBalance); err != nil {
					return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "解包桥接资产失败")
				}
			}
			if err := o.assets.TransferNative(ctx, plan.Agent, amount); err != nil {
				return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "转移原生资产失败")
			}
			continue
		}
		handle, err := o.assets.Token(token)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析代币")
		}
		if err := handle.Transfer(ctx, plan.Agent, amount); err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "分发资产失败")
		}
	}

	targets, payloads, err := DecodeSubOps(plan.SubOps)
	if err != nil {
		return err
	}
	// 交接点：代理以可信来源标记执行任意策略，本系统不再监督。
	if err := o.invoker.Invoke(ctx, plan.Agent, targets, payloads, o.self); err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "代理执行失败")
	}

	if err := o.resolver.Payback(ctx, plan.Route, plan.Tokens); err != nil {
		return err
	}

	// 把残留的原生余额重新包装，供外层批量的归还腿使用。
	nativeBalance, err := o.assets.NativeBalance(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取原生余额失败")
	}
	if nativeBalance.Sign() > 0 {
		if err := bridge.Wrap(ctx, nativeBalance); err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "包装原生资产失败")
		}
	}
	return nil
}

// verifyAll 在批量提交后逐个资产校验费用不变量。
func (o *Orchestrator) verifyAll(ctx context.Context, tokens []common.Address, amounts []*big.Int, handles []assets.Token, pre []*big.Int) error {
	fee := o.Fee()
	for i := range tokens {
		post, err := handles[i].BalanceOf(ctx, o.self)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取余额失败")
		}
		if err := verifyFee(fee, amounts[i], pre[i], post); err != nil {
			return err
		}
	}
	return nil
}

// verifyFee 校验单个资产的费用不变量。零费率时允许不超过灰尘容差的亏损；
// 非零费率时余额增量必须落在名义费用的 ±0.05% 容差带内。
func verifyFee(fee, amount, pre, post *big.Int) error {
	if fee.Sign() == 0 {
		floor := new(big.Int).Sub(pre, dustTolerance)
		if post.Cmp(floor) < 0 {
			return xerrors.Wrap(CodeAmountPaidLess, nil,
				fmt.Sprintf("余额亏损超出灰尘容差: pre=%s post=%s", pre, post))
		}
		return nil
	}

	gain := new(big.Int).Sub(post, pre)
	nominal := new(big.Int).Mul(amount, fee)
	den := new(big.Int).Mul(feeScale, feeTolDen)
	low := new(big.Int).Div(new(big.Int).Mul(nominal, feeTolLow), den)
	high := new(big.Int).Div(new(big.Int).Mul(nominal, feeTolHigh), den)
	if gain.Cmp(low) < 0 || gain.Cmp(high) > 0 {
		return xerrors.Wrap(CodeAmountPaidLess, nil,
			fmt.Sprintf("费用校验失败: gain=%s 区间=[%s,%s]", gain, low, high))
	}
	return nil
}

// lookupMarket 在资金池报告的市场数量内线性扫描请求资产对应的市场。
func (o *Orchestrator) lookupMarket(ctx context.Context, token common.Address) (*big.Int, error) {
	num, err := o.pool.NumMarkets(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取市场数量失败")
	}
	one := big.NewInt(1)
	for i := new(big.Int); i.Cmp(num) < 0; i = new(big.Int).Add(i, one) {
		addr, err := o.pool.MarketToken(ctx, i)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "读取市场资产失败")
		}
		if addr == token {
			return i, nil
		}
	}
	return nil, xerrors.Wrap(CodeMarketNotFound, nil, fmt.Sprintf("资产 %s 没有对应市场", token.Hex()))
}

func (o *Orchestrator) accountRef() pool.AccountRef {
	return pool.AccountRef{Owner: o.self, Number: new(big.Int).Set(accountNumber)}
}

var _ pool.Callback = (*Orchestrator)(nil)
