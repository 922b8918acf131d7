package flashloan

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPlanRoundTrip(t *testing.T) {
	agent := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokens := []common.Address{
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		common.HexToAddress("0x3333333333333333333333333333333333333333"),
	}
	amounts := []*big.Int{big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)}
	subOps, err := EncodeSubOps([]SubOperation{
		{Target: common.HexToAddress("0x4444444444444444444444444444444444444444"), Payload: []byte{0xde, 0xad}},
		{Target: common.HexToAddress("0x5555555555555555555555555555555555555555"), Payload: nil},
	})
	if err != nil {
		t.Fatalf("编码子操作失败: %v", err)
	}

	encoded, err := EncodePlan(agent, RouteLeverageB, tokens, amounts, subOps)
	if err != nil {
		t.Fatalf("编码计划失败: %v", err)
	}
	plan, err := DecodePlan(encoded)
	if err != nil {
		t.Fatalf("解码计划失败: %v", err)
	}

	if plan.Agent != agent {
		t.Fatalf("agent 不一致: %s", plan.Agent.Hex())
	}
	if plan.Route != RouteLeverageB {
		t.Fatalf("route 不一致: %s", plan.Route)
	}
	if len(plan.Tokens) != len(tokens) {
		t.Fatalf("tokens 数量不一致: %d", len(plan.Tokens))
	}
	for i := range tokens {
		if plan.Tokens[i] != tokens[i] {
			t.Fatalf("token %d 不一致: %s", i, plan.Tokens[i].Hex())
		}
		if plan.Amounts[i].Cmp(amounts[i]) != 0 {
			t.Fatalf("amount %d 不一致: %s", i, plan.Amounts[i])
		}
	}
	if !bytes.Equal(plan.SubOps, subOps) {
		t.Fatalf("子操作载荷往返后不一致")
	}

	targets, payloads, err := DecodeSubOps(plan.SubOps)
	if err != nil {
		t.Fatalf("解码子操作失败: %v", err)
	}
	if len(targets) != 2 || len(payloads) != 2 {
		t.Fatalf("子操作数量不一致: %d/%d", len(targets), len(payloads))
	}
	if !bytes.Equal(payloads[0], []byte{0xde, 0xad}) {
		t.Fatalf("payload 0 不一致: %x", payloads[0])
	}
	if len(payloads[1]) != 0 {
		t.Fatalf("空 payload 往返后非空: %x", payloads[1])
	}
}

func TestPlanRoundTripEmpty(t *testing.T) {
	encoded, err := EncodePlan(common.Address{}, RouteDirect, nil, nil, nil)
	if err != nil {
		t.Fatalf("编码空计划失败: %v", err)
	}
	plan, err := DecodePlan(encoded)
	if err != nil {
		t.Fatalf("解码空计划失败: %v", err)
	}
	if plan.Route != RouteDirect {
		t.Fatalf("route 不一致: %s", plan.Route)
	}
	if len(plan.Tokens) != 0 || len(plan.Amounts) != 0 || len(plan.SubOps) != 0 {
		t.Fatalf("空计划往返后出现内容: %+v", plan)
	}
}

func TestCallerDataRoundTrip(t *testing.T) {
	agent := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	subOps, err := EncodeSubOps(nil)
	if err != nil {
		t.Fatalf("编码空子操作失败: %v", err)
	}

	data, err := EncodeCallerData(agent, subOps)
	if err != nil {
		t.Fatalf("编码调用方数据失败: %v", err)
	}
	gotAgent, gotSubOps, err := DecodeCallerData(data)
	if err != nil {
		t.Fatalf("解码调用方数据失败: %v", err)
	}
	if gotAgent != agent {
		t.Fatalf("agent 不一致: %s", gotAgent.Hex())
	}
	if !bytes.Equal(gotSubOps, subOps) {
		t.Fatalf("子操作载荷不一致")
	}
}

func TestDecodePlanRejectsGarbage(t *testing.T) {
	if _, err := DecodePlan([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatalf("损坏的载荷应当解码失败")
	}
}

func TestParseRoute(t *testing.T) {
	cases := map[string]Route{
		"direct":     RouteDirect,
		"leverage_a": RouteLeverageA,
		"leverage_b": RouteLeverageB,
		"leverage_c": RouteLeverageC,
	}
	for name, want := range cases {
		got, err := ParseRoute(name)
		if err != nil {
			t.Fatalf("解析路由 %s 失败: %v", name, err)
		}
		if got != want {
			t.Fatalf("路由 %s 解析结果不一致: %d", name, got)
		}
	}
	if _, err := ParseRoute("unknown"); err == nil {
		t.Fatalf("未知路由应当解析失败")
	}
}

func TestRouteLeveraged(t *testing.T) {
	if RouteDirect.Leveraged() {
		t.Fatalf("直借路由不应经过二级协议")
	}
	for _, route := range []Route{RouteLeverageA, RouteLeverageB, RouteLeverageC} {
		if !route.Leveraged() {
			t.Fatalf("路由 %s 应当经过二级协议", route)
		}
	}
}
