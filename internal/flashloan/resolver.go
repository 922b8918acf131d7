package flashloan

import (
	"context"
	"fmt"
	"math/big"

	"FlashRoute/internal/assets"
	xerrors "FlashRoute/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Resolver 负责路由分发：直借路由不做任何事，杠杆路由把请求翻译成对应二级协议的
// 抵押/借出/偿还/赎回调用序列。协议差异被收敛在 ProtocolAdapter 后面。
type Resolver struct {
	bridge   common.Address
	adapters map[Route]ProtocolAdapter
}

// NewResolver 创建一个只认识直借路由的解析器，桥接资产地址用于抵押与赎回。
func NewResolver(bridge common.Address) *Resolver {
	return &Resolver{
		bridge:   bridge,
		adapters: make(map[Route]ProtocolAdapter),
	}
}

// Bind 在构造期把一个协议适配器绑定到杠杆路由上。运行期不再变更。
func (r *Resolver) Bind(route Route, adapter ProtocolAdapter) {
	r.adapters[route] = adapter
}

// Has 报告路由是否可用。直借路由永远可用。
func (r *Resolver) Has(route Route) bool {
	if route == RouteDirect {
		return true
	}
	_, ok := r.adapters[route]
	return ok
}

// Borrow 通过二级协议获取请求资产：先把桥接资产全额抵押进协议，
// 再按列表顺序逐个借出。顺序不可重排，抵押必须先于任何借出。
func (r *Resolver) Borrow(ctx context.Context, route Route, tokens []common.Address, amounts []*big.Int) error {
	if !route.Leveraged() {
		return nil
	}
	adapter, err := r.adapter(route)
	if err != nil {
		return err
	}
	if len(tokens) != len(amounts) {
		return xerrors.New(xerrors.CodeInvalidArgument, "tokens 与 amounts 长度不一致")
	}

	if err := adapter.Deposit(ctx, r.bridge, AmountAll); err != nil {
		return fmt.Errorf("抵押桥接资产失败: %w", err)
	}
	for i, token := range tokens {
		// 原生资产在二级协议侧以桥接资产形态借出。
		if token == assets.NativeMarker {
			token = r.bridge
		}
		if err := adapter.Borrow(ctx, token, amounts[i]); err != nil {
			return fmt.Errorf("借出 %s 失败: %w", token.Hex(), err)
		}
	}
	return nil
}

// Payback 逆向解除 Borrow 建立的头寸：按列表顺序全额偿还每个资产，
// 再全额赎回桥接资产抵押。全额语义避免残留灰尘。
func (r *Resolver) Payback(ctx context.Context, route Route, tokens []common.Address) error {
	if !route.Leveraged() {
		return nil
	}
	adapter, err := r.adapter(route)
	if err != nil {
		return err
	}

	for _, token := range tokens {
		if token == assets.NativeMarker {
			token = r.bridge
		}
		if err := adapter.Payback(ctx, token, AmountAll); err != nil {
			return fmt.Errorf("偿还 %s 失败: %w", token.Hex(), err)
		}
	}
	if err := adapter.Withdraw(ctx, r.bridge, AmountAll); err != nil {
		return fmt.Errorf("赎回桥接资产失败: %w", err)
	}
	return nil
}

func (r *Resolver) adapter(route Route) (ProtocolAdapter, error) {
	adapter, ok := r.adapters[route]
	if !ok {
		return nil, xerrors.Wrap(CodeRouteNotFound, nil, fmt.Sprintf("路由 %s 未绑定协议", route))
	}
	return adapter, nil
}
