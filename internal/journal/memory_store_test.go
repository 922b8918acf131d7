package journal

import (
	"context"
	"errors"
	"testing"
)

func sampleStep(id string) *Step {
	return &Step{
		ID:      id,
		Route:   "direct",
		Tokens:  []string{"0x00000000000000000000000000000000000000d1"},
		Amounts: []string{"50000"},
		Agent:   "0x00000000000000000000000000000000000000ae",
		FeeRate: "0",
		Status:  StatusPending,
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, sampleStep("step-1")); err != nil {
		t.Fatalf("创建步骤失败: %v", err)
	}
	if err := store.Create(ctx, sampleStep("step-1")); !errors.Is(err, ErrStepConflict) {
		t.Fatalf("重复 ID 应当冲突: %v", err)
	}

	step, err := store.Get(ctx, "step-1")
	if err != nil {
		t.Fatalf("查询步骤失败: %v", err)
	}
	if step.Status != StatusPending || step.Route != "direct" {
		t.Fatalf("步骤内容不一致: %+v", step)
	}
	if step.CreatedAt == 0 || step.UpdatedAt == 0 {
		t.Fatalf("时间戳未填充: %+v", step)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("缺失步骤应当返回 NotFound: %v", err)
	}
}

func TestMemoryStoreFinalize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, sampleStep("step-1")); err != nil {
		t.Fatalf("创建步骤失败: %v", err)
	}
	if err := store.Finalize(ctx, "step-1", StatusAborted, "AMOUNT_PAID_LESS", "fee short"); err != nil {
		t.Fatalf("终态落盘失败: %v", err)
	}

	step, err := store.Get(ctx, "step-1")
	if err != nil {
		t.Fatalf("查询步骤失败: %v", err)
	}
	if step.Status != StatusAborted || step.ErrorCode != "AMOUNT_PAID_LESS" || step.LastError != "fee short" {
		t.Fatalf("终态内容不一致: %+v", step)
	}

	if err := store.Finalize(ctx, "missing", StatusCommitted, "", ""); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("缺失步骤终态应当返回 NotFound: %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, sampleStep(id)); err != nil {
			t.Fatalf("创建步骤失败: %v", err)
		}
	}
	if err := store.Finalize(ctx, "b", StatusCommitted, "", ""); err != nil {
		t.Fatalf("终态落盘失败: %v", err)
	}

	committed, err := store.List(ctx, ListOptions{Status: StatusCommitted})
	if err != nil {
		t.Fatalf("过滤列表失败: %v", err)
	}
	if len(committed) != 1 || committed[0].ID != "b" {
		t.Fatalf("过滤结果不一致: %+v", committed)
	}

	limited, err := store.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("限量列表失败: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("限量结果不一致: %d", len(limited))
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("默认列表失败: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("默认结果不一致: %d", len(all))
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := sampleStep("step-1")
	if err := store.Create(ctx, original); err != nil {
		t.Fatalf("创建步骤失败: %v", err)
	}

	got, err := store.Get(ctx, "step-1")
	if err != nil {
		t.Fatalf("查询步骤失败: %v", err)
	}
	got.Status = StatusAborted
	got.Tokens[0] = "mutated"

	again, err := store.Get(ctx, "step-1")
	if err != nil {
		t.Fatalf("二次查询失败: %v", err)
	}
	if again.Status != StatusPending || again.Tokens[0] == "mutated" {
		t.Fatalf("存储内容被外部修改污染: %+v", again)
	}
}
