package flashloan

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"FlashRoute/internal/assets"
	"FlashRoute/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testSelf     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	testPoolAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testBridge   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	testVault    = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	testAgent    = common.HexToAddress("0x00000000000000000000000000000000000000ae")
)

const (
	poolSeed  = 1_000_000
	selfSeed  = 1_000
	agentSeed = 100_000
	vaultSeed = 10_000_000
)

type invokerFunc func(ctx context.Context, agent common.Address, targets []common.Address, payloads [][]byte, origin common.Address) error

func (f invokerFunc) Invoke(ctx context.Context, agent common.Address, targets []common.Address, payloads [][]byte, origin common.Address) error {
	return f(ctx, agent, targets, payloads, origin)
}

// simEnv 搭建一套内存环境：账本、资金池、借贷协议与编排器。
type simEnv struct {
	ledger *assets.MemoryLedger
	pool   *pool.MemoryPool
	lender *SimLender
	orch   *Orchestrator
	// invoke 是测试脚本化的代理行为，按场景替换。
	invoke invokerFunc
}

func newSimEnv(t *testing.T, opts ...Option) *simEnv {
	t.Helper()

	env := &simEnv{}
	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		return nil
	}

	env.ledger = assets.NewMemoryLedger(testBridge)
	env.ledger.SetBalance(testBridge, testPoolAddr, big.NewInt(poolSeed))
	env.ledger.SetBalance(testToken, testPoolAddr, big.NewInt(poolSeed))
	env.ledger.SetBalance(testToken, testSelf, big.NewInt(selfSeed))
	env.ledger.SetBalance(testBridge, testSelf, big.NewInt(selfSeed))
	env.ledger.SetBalance(testToken, testAgent, big.NewInt(agentSeed))
	env.ledger.SetBalance(testToken, testVault, big.NewInt(vaultSeed))

	env.pool = pool.NewMemoryPool(env.ledger, testPoolAddr, []common.Address{testBridge, testToken})
	env.lender = NewSimLender(env.ledger, testSelf, testVault)

	resolver := NewResolver(testBridge)
	resolver.Bind(RouteLeverageA, env.lender)

	registry := assets.NewMemoryRegistry(env.ledger, testSelf)
	dispatch := invokerFunc(func(ctx context.Context, agent common.Address, targets []common.Address, payloads [][]byte, origin common.Address) error {
		return env.invoke(ctx, agent, targets, payloads, origin)
	})
	env.orch = New(testSelf, testOperator, testPoolAddr, env.pool, registry, resolver, dispatch, opts...)
	env.pool.RegisterCallee(testSelf, env.orch)
	return env
}

func callerData(t *testing.T) []byte {
	t.Helper()
	subOps, err := EncodeSubOps(nil)
	if err != nil {
		t.Fatalf("编码子操作失败: %v", err)
	}
	data, err := EncodeCallerData(testAgent, subOps)
	if err != nil {
		t.Fatalf("编码调用方数据失败: %v", err)
	}
	return data
}

func TestDirectLoanZeroFee(t *testing.T) {
	env := newSimEnv(t)
	amount := big.NewInt(50_000)

	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		// 代理在回调窗口内归还全部本金。
		if got := env.ledger.BalanceOf(testToken, testAgent); got.Cmp(new(big.Int).Add(big.NewInt(agentSeed), amount)) != 0 {
			t.Fatalf("代理未收到借款: %s", got)
		}
		return env.ledger.Transfer(testToken, testAgent, testSelf, amount)
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteDirect, callerData(t))
	if err != nil {
		t.Fatalf("直借闪电贷失败: %v", err)
	}

	// 引擎承担固定盈余，亏损必须在灰尘容差内。
	post := env.ledger.BalanceOf(testToken, testSelf)
	loss := new(big.Int).Sub(big.NewInt(selfSeed), post)
	if loss.Sign() < 0 || loss.Cmp(big.NewInt(5)) > 0 {
		t.Fatalf("引擎余额变化超出灰尘容差: %s", loss)
	}
	// 资金池收回本金加盈余。
	poolBal := env.ledger.BalanceOf(testToken, testPoolAddr)
	if poolBal.Cmp(big.NewInt(poolSeed)) < 0 {
		t.Fatalf("资金池未收回本金: %s", poolBal)
	}
}

func TestEmptyLoanCommits(t *testing.T) {
	env := newSimEnv(t)
	invoked := false

	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		invoked = true
		return nil
	}

	// 零资产借贷仍然走完整批次，回调照常触发。
	if err := env.orch.Initiate(context.Background(), nil, nil, RouteDirect, callerData(t)); err != nil {
		t.Fatalf("空借贷不应失败: %v", err)
	}
	if !invoked {
		t.Fatalf("空借贷仍应触发代理回调")
	}
	assertSeedBalances(t, env)
}

func TestDirectLoanExactFee(t *testing.T) {
	fee := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil) // 0.1%
	env := newSimEnv(t, WithFee(fee))
	amount := big.NewInt(500_000)

	// gain = R - amount - margin，名义费用 500。
	repay := new(big.Int).Add(amount, big.NewInt(502))
	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		return env.ledger.Transfer(testToken, testAgent, testSelf, repay)
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteDirect, callerData(t))
	if err != nil {
		t.Fatalf("带费率的直借闪电贷失败: %v", err)
	}

	post := env.ledger.BalanceOf(testToken, testSelf)
	gain := new(big.Int).Sub(post, big.NewInt(selfSeed))
	if gain.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("费用入账不一致: %s", gain)
	}
}

func TestDirectLoanUnderpaidFeeAborts(t *testing.T) {
	fee := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	env := newSimEnv(t, WithFee(fee))
	amount := big.NewInt(500_000)

	// 只付一半费用。
	repay := new(big.Int).Add(amount, big.NewInt(252))
	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		return env.ledger.Transfer(testToken, testAgent, testSelf, repay)
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteDirect, callerData(t))
	if !errors.Is(err, ErrAmountPaidLess) {
		t.Fatalf("期望 AmountPaidLess，得到: %v", err)
	}

	// 整个步骤回滚，所有余额恢复原状。
	assertSeedBalances(t, env)
}

func TestLeveragedLoan(t *testing.T) {
	fee := big.NewInt(5e14) // 0.05%
	env := newSimEnv(t, WithFee(fee))
	amount := big.NewInt(1_000_000)

	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		// 桥接资产已抵押、请求资产已借出并分发。
		if got := env.lender.Debt(testToken); got.Cmp(amount) != 0 {
			t.Fatalf("二级协议负债不一致: %s", got)
		}
		if got := env.lender.Collateral(testBridge); got.Sign() <= 0 {
			t.Fatalf("桥接资产未抵押: %s", got)
		}
		repay := new(big.Int).Add(amount, big.NewInt(500))
		return env.ledger.Transfer(testToken, testAgent, testSelf, repay)
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteLeverageA, callerData(t))
	if err != nil {
		t.Fatalf("杠杆闪电贷失败: %v", err)
	}

	post := env.ledger.BalanceOf(testToken, testSelf)
	gain := new(big.Int).Sub(post, big.NewInt(selfSeed))
	if gain.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("费用入账不一致: %s", gain)
	}
	// 二级协议头寸清零。
	if got := env.lender.Debt(testToken); got.Sign() != 0 {
		t.Fatalf("负债未清零: %s", got)
	}
	if got := env.lender.Collateral(testBridge); got.Sign() != 0 {
		t.Fatalf("抵押未赎回: %s", got)
	}
}

func TestUnknownRouteRejectedBeforeBalances(t *testing.T) {
	env := newSimEnv(t)

	// leverage_c 未绑定协议适配器。
	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{big.NewInt(1)}, RouteLeverageC, callerData(t))
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("期望 RouteNotFound，得到: %v", err)
	}
	assertSeedBalances(t, env)

	if _, err := ParseRoute("route-99"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("未知路由名应当返回 RouteNotFound: %v", err)
	}
}

func TestUnknownMarketRejected(t *testing.T) {
	env := newSimEnv(t)
	unlisted := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	err := env.orch.Initiate(context.Background(), []common.Address{unlisted}, []*big.Int{big.NewInt(1)}, RouteDirect, callerData(t))
	if !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("期望 MarketNotFound，得到: %v", err)
	}
}

func TestAgentFailureRollsBackBatch(t *testing.T) {
	env := newSimEnv(t)
	amount := big.NewInt(50_000)

	boom := errors.New("strategy reverted")
	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		return boom
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteDirect, callerData(t))
	if err == nil {
		t.Fatalf("代理失败应当使整个步骤失败")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("原始错误应当保留在错误链中: %v", err)
	}
	assertSeedBalances(t, env)
}

func TestUnrepaidLoanRollsBackBatch(t *testing.T) {
	env := newSimEnv(t)
	amount := big.NewInt(50_000)

	// 代理拿走资产后不做任何归还，资金池的存入腿会因授权余额不足失败。
	env.invoke = func(context.Context, common.Address, []common.Address, [][]byte, common.Address) error {
		return nil
	}

	err := env.orch.Initiate(context.Background(), []common.Address{testToken}, []*big.Int{amount}, RouteDirect, callerData(t))
	if err == nil {
		t.Fatalf("未归还的借款应当使整个步骤失败")
	}
	assertSeedBalances(t, env)
}

func TestCallbackRejectsForeignSender(t *testing.T) {
	env := newSimEnv(t)

	plan, err := EncodePlan(testAgent, RouteDirect, nil, nil, nil)
	if err != nil {
		t.Fatalf("编码计划失败: %v", err)
	}
	err = env.orch.CallFunction(context.Background(), testOperator, pool.AccountRef{Owner: testOperator, Number: big.NewInt(1)}, plan)
	if !errors.Is(err, ErrNotSameSender) {
		t.Fatalf("期望 NotSameSender，得到: %v", err)
	}
}

func TestSetFee(t *testing.T) {
	env := newSimEnv(t)

	if err := env.orch.SetFee(testAgent, big.NewInt(1)); !errors.Is(err, ErrNotSameSender) {
		t.Fatalf("非管理员改费率应当被拒绝: %v", err)
	}
	if err := env.orch.SetFee(testOperator, big.NewInt(1)); err != nil {
		t.Fatalf("管理员改费率失败: %v", err)
	}
	if err := env.orch.SetFee(testOperator, big.NewInt(1)); !errors.Is(err, ErrSameFeeRejected) {
		t.Fatalf("重复设置相同费率应当被拒绝: %v", err)
	}
	if got := env.orch.Fee(); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("费率不一致: %s", got)
	}
}

func TestAdminCall(t *testing.T) {
	exec := &recordingExecutor{}
	env := newSimEnv(t, WithExecutor(exec))
	target := common.HexToAddress("0x00000000000000000000000000000000000000e9")

	if err := env.orch.AdminCall(context.Background(), testAgent, target, []byte{0x01}); !errors.Is(err, ErrNotSameSender) {
		t.Fatalf("非管理员受托执行应当被拒绝: %v", err)
	}
	if err := env.orch.AdminCall(context.Background(), testOperator, common.Address{}, []byte{0x01}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("零地址目标应当被拒绝: %v", err)
	}
	if err := env.orch.AdminCall(context.Background(), testOperator, target, []byte{0x01}); err != nil {
		t.Fatalf("管理员受托执行失败: %v", err)
	}
	if len(exec.calls) != 1 || exec.calls[0].target != target {
		t.Fatalf("受托执行未到达目标: %+v", exec.calls)
	}
}

// assertSeedBalances 校验所有参与方的余额都回到初始注入值。
func assertSeedBalances(t *testing.T, env *simEnv) {
	t.Helper()
	checks := []struct {
		name  string
		token common.Address
		owner common.Address
		want  int64
	}{
		{"self/token", testToken, testSelf, selfSeed},
		{"self/bridge", testBridge, testSelf, selfSeed},
		{"agent/token", testToken, testAgent, agentSeed},
		{"pool/token", testToken, testPoolAddr, poolSeed},
		{"pool/bridge", testBridge, testPoolAddr, poolSeed},
		{"vault/token", testToken, testVault, vaultSeed},
	}
	for _, check := range checks {
		got := env.ledger.BalanceOf(check.token, check.owner)
		if got.Cmp(big.NewInt(check.want)) != 0 {
			t.Fatalf("%s 余额未恢复: got=%s want=%d", check.name, got, check.want)
		}
	}
}
