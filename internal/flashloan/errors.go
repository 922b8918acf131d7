package flashloan

import (
	xerrors "FlashRoute/internal/errors"
)

var (
	// ErrMarketNotFound 表示请求的资产在主资金池中没有对应市场。
	ErrMarketNotFound = xerrors.New(CodeMarketNotFound, "market not found")
	// ErrRouteNotFound 表示路由标识无法识别。
	ErrRouteNotFound = xerrors.New(CodeRouteNotFound, "route not found")
	// ErrNotSameSender 表示回调或管理操作的调用方身份校验失败。
	ErrNotSameSender = xerrors.New(CodeNotSameSender, "caller is not the orchestrator", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrAmountPaidLess 表示结算后的余额未能满足费用不变量。
	ErrAmountPaidLess = xerrors.New(CodeAmountPaidLess, "repayment below required fee", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrSameFeeRejected 表示管理员试图把费率更新为当前值。
	ErrSameFeeRejected = xerrors.New(CodeSameFeeRejected, "fee unchanged", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrInvalidTarget 表示受托执行的目标地址未配置。
	ErrInvalidTarget = xerrors.New(CodeInvalidTarget, "delegated call target unset", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeMarketNotFound  xerrors.Code = "MARKET_NOT_FOUND"
	CodeRouteNotFound   xerrors.Code = "ROUTE_NOT_FOUND"
	CodeNotSameSender   xerrors.Code = "NOT_SAME_SENDER"
	CodeAmountPaidLess  xerrors.Code = "AMOUNT_PAID_LESS"
	CodeSameFeeRejected xerrors.Code = "SAME_FEE_REJECTED"
	CodeInvalidTarget   xerrors.Code = "INVALID_TARGET"
)

func init() {
	xerrors.Register(CodeMarketNotFound, xerrors.Attributes{
		Message:  "market not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRouteNotFound, xerrors.Attributes{
		Message:  "route not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotSameSender, xerrors.Attributes{
		Message:  "caller is not the orchestrator",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeAmountPaidLess, xerrors.Attributes{
		Message:  "repayment below required fee",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeSameFeeRejected, xerrors.Attributes{
		Message:  "fee unchanged",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidTarget, xerrors.Attributes{
		Message:  "delegated call target unset",
		Severity: xerrors.SeverityCritical,
	})
}
