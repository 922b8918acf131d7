package journal

import "context"

// ListOptions 过滤步骤列表。
type ListOptions struct {
	Status Status
	Limit  int
}

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
}

// Store 抽象了步骤记录的持久化接口。
type Store interface {
	Create(ctx context.Context, step *Step) error
	Get(ctx context.Context, id string) (*Step, error)
	Finalize(ctx context.Context, id string, status Status, errorCode, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Step, error)
	Close() error
}
