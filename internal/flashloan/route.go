package flashloan

import (
	"fmt"

	xerrors "FlashRoute/internal/errors"
)

// Route 选择请求资产的来源：直接从主资金池借出，或经某个二级借贷协议杠杆获取。
// 一次闪电贷内路由不可变。
type Route uint8

const (
	RouteDirect Route = iota
	RouteLeverageA
	RouteLeverageB
	RouteLeverageC
)

var routeNames = map[Route]string{
	RouteDirect:    "direct",
	RouteLeverageA: "leverage_a",
	RouteLeverageB: "leverage_b",
	RouteLeverageC: "leverage_c",
}

// Leveraged 返回该路由是否经过二级协议。
func (r Route) Leveraged() bool {
	return r != RouteDirect
}

// String 实现 fmt.Stringer。
func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", uint8(r))
}

// ParseRoute 根据名称解析路由，供配置与 API 层使用。
func ParseRoute(name string) (Route, error) {
	for route, routeName := range routeNames {
		if routeName == name {
			return route, nil
		}
	}
	return 0, xerrors.Wrap(CodeRouteNotFound, nil, fmt.Sprintf("未知路由: %s", name))
}
