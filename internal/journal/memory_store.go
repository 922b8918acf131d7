package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "FlashRoute/internal/errors"
)

// MemoryStore 以内存方式保存步骤记录，主要用于测试与模拟模式。
type MemoryStore struct {
	mu    sync.RWMutex
	steps map[string]*Step
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: make(map[string]*Step)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, step *Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "step 不能为空")
	}
	if step.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤 ID 不能为空")
	}
	if _, ok := m.steps[step.ID]; ok {
		return ErrStepConflict
	}
	now := time.Now().Unix()
	if step.CreatedAt == 0 {
		step.CreatedAt = now
	}
	step.UpdatedAt = now
	m.steps[step.ID] = cloneStep(step)
	return nil
}

// Get 返回步骤记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	step, ok := m.steps[id]
	if !ok {
		return nil, ErrStepNotFound
	}
	return cloneStep(step), nil
}

// Finalize 落盘步骤的终态。
func (m *MemoryStore) Finalize(_ context.Context, id string, status Status, errorCode, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step, ok := m.steps[id]
	if !ok {
		return ErrStepNotFound
	}
	step.Status = status
	step.ErrorCode = errorCode
	step.LastError = lastError
	step.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回最近的步骤记录，按更新时间倒序。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Step, 0, len(m.steps))
	for _, step := range m.steps {
		if opts.Status != "" && step.Status != opts.Status {
			continue
		}
		results = append(results, cloneStep(step))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func cloneStep(step *Step) *Step {
	clone := *step
	clone.Tokens = append([]string(nil), step.Tokens...)
	clone.Amounts = append([]string(nil), step.Amounts...)
	return &clone
}

var _ Store = (*MemoryStore)(nil)
