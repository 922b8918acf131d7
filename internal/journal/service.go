package journal

import (
	"context"
	"time"

	"FlashRoute/internal/notify"
	"FlashRoute/pkg/logger"

	"github.com/google/uuid"
)

// Service 负责步骤记录的生命周期管理，并在终态变更时广播事件。
type Service struct {
	store     Store
	publisher notify.Publisher
}

// NewService 创建步骤记录服务。publisher 为 nil 时退化为仅落盘。
func NewService(store Store, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{store: store, publisher: publisher}
}

// Begin 登记一个新的步骤，初始状态为 pending。
func (s *Service) Begin(ctx context.Context, route string, tokens, amounts []string, agent, feeRate string) (*Step, error) {
	step := &Step{
		ID:      uuid.NewString(),
		Route:   route,
		Tokens:  tokens,
		Amounts: amounts,
		Agent:   agent,
		FeeRate: feeRate,
		Status:  StatusPending,
	}
	if err := s.store.Create(ctx, step); err != nil {
		return nil, err
	}
	logger.L().Info("step begin",
		"step_id", step.ID,
		"route", step.Route,
		"tokens", len(step.Tokens),
	)
	return step, nil
}

// Commit 将步骤标记为已提交。
func (s *Service) Commit(ctx context.Context, id string) error {
	if err := s.store.Finalize(ctx, id, StatusCommitted, "", ""); err != nil {
		return err
	}
	s.finish(ctx, id, StatusCommitted, "")
	return nil
}

// Abort 将步骤标记为已回滚，并保留错误信息。
func (s *Service) Abort(ctx context.Context, id, errorCode, lastError string) error {
	if err := s.store.Finalize(ctx, id, StatusAborted, errorCode, lastError); err != nil {
		return err
	}
	s.finish(ctx, id, StatusAborted, errorCode)
	return nil
}

func (s *Service) finish(ctx context.Context, id string, status Status, errorCode string) {
	logger.Audit().Info("step finalized",
		"step_id", id,
		"status", string(status),
		"error_code", errorCode,
	)

	event := notify.StepEvent{
		StepID:    id,
		Status:    string(status),
		ErrorCode: errorCode,
		Timestamp: time.Now().Unix(),
	}
	if step, err := s.store.Get(ctx, id); err == nil {
		event.Route = step.Route
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// 事件广播失败不影响步骤本身的结果。
		logger.L().Warn("publish step event failed", "step_id", id, "error", err)
	}
}

// Get 查询指定步骤。
func (s *Service) Get(ctx context.Context, id string) (*Step, error) {
	return s.store.Get(ctx, id)
}

// List 返回最近的步骤记录。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Step, error) {
	return s.store.List(ctx, opts)
}

// Close 释放底层资源。
func (s *Service) Close() error {
	if err := s.publisher.Close(); err != nil {
		return err
	}
	return s.store.Close()
}
