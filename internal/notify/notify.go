package notify

import (
	"context"
	"sync"
)

// StepEvent 是步骤终态变更时对外广播的事件。
type StepEvent struct {
	StepID    string `json:"step_id"`
	Route     string `json:"route"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher 抽象了事件广播通道。
type Publisher interface {
	Publish(ctx context.Context, event StepEvent) error
	Close() error
}

// NopPublisher 丢弃所有事件，用于关闭通知的配置。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, StepEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// MemoryPublisher 将事件保存在内存中，主要用于测试。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []StepEvent
}

// NewMemoryPublisher 创建内存事件通道。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件。
func (p *MemoryPublisher) Publish(_ context.Context, event StepEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (p *MemoryPublisher) Events() []StepEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StepEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Close 实现 Publisher 接口。
func (p *MemoryPublisher) Close() error { return nil }

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
