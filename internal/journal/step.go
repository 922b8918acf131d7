package journal

import (
	xerrors "FlashRoute/internal/errors"
)

// Status 表示一次闪电贷步骤的终态。步骤在单个原子操作内同步完成，
// pending 仅在执行期间短暂存在。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusAborted   Status = "aborted"
)

// Step 记录一次闪电贷步骤的事后审计信息。引擎本身不依赖这些记录，
// 跨步骤的引擎状态仍然只有费率与路由绑定。
type Step struct {
	ID        string   `json:"id"`
	Route     string   `json:"route"`
	Tokens    []string `json:"tokens"`
	Amounts   []string `json:"amounts"`
	Agent     string   `json:"agent"`
	FeeRate   string   `json:"fee_rate"`
	Status    Status   `json:"status"`
	ErrorCode string   `json:"error_code,omitempty"`
	LastError string   `json:"last_error,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

var (
	// ErrStepNotFound 表示指定的步骤记录不存在。
	ErrStepNotFound = xerrors.New(CodeStepNotFound, "step not found")
	// ErrStepConflict 表示步骤 ID 冲突。
	ErrStepConflict = xerrors.New(CodeStepConflict, "step conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeStepNotFound xerrors.Code = "STEP_NOT_FOUND"
	CodeStepConflict xerrors.Code = "STEP_CONFLICT"
)

func init() {
	xerrors.Register(CodeStepNotFound, xerrors.Attributes{
		Message:  "step not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeStepConflict, xerrors.Attributes{
		Message:  "step conflict",
		Severity: xerrors.SeverityWarning,
	})
}
