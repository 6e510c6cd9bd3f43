package repository

import (
	"context"
	"errors"
	"fmt"

	"helpdesk-sync/internal/model"
)

// UpsertOps 描述一种实体的查找、插入、更新
type UpsertOps[T any] struct {
	Find   func(ctx context.Context) (*T, error)
	Insert func(ctx context.Context, v *T) error
	Update func(ctx context.Context, v *T) error
}

// Upsert 查找已有行并合并更新；不存在时乐观插入，若插入遇到唯一键冲突
// （并发路径先插入了同一实体），重新查找并按同样的合并更新。
// 冲突不会暴露给调用方。返回最终的行以及是否为新建。
func Upsert[T any](ctx context.Context, ops UpsertOps[T], merge func(*T)) (*T, bool, error) {
	existing, err := ops.Find(ctx)
	switch {
	case err == nil:
		merge(existing)
		if err := ops.Update(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	fresh := new(T)
	merge(fresh)
	err = ops.Insert(ctx, fresh)
	if err == nil {
		return fresh, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, false, err
	}

	existing, err = ops.Find(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("reselect after conflict: %w", err)
	}
	merge(existing)
	if err := ops.Update(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpsertDeal 以远端 ID 为键合并 Deal
func UpsertDeal(ctx context.Context, tx Tx, p model.DealPatch) (*model.Deal, bool, error) {
	return Upsert(ctx, UpsertOps[model.Deal]{
		Find: func(ctx context.Context) (*model.Deal, error) {
			return tx.DealByRemoteID(ctx, p.DealID)
		},
		Insert: tx.InsertDeal,
		Update: tx.UpdateDeal,
	}, p.Apply)
}

// UpsertActivity 以远端 ID 为键合并 Activity；p.DealID 必须是已存在的本地 Deal
func UpsertActivity(ctx context.Context, tx Tx, p model.ActivityPatch) (*model.Activity, bool, error) {
	return Upsert(ctx, UpsertOps[model.Activity]{
		Find: func(ctx context.Context) (*model.Activity, error) {
			return tx.ActivityByRemoteID(ctx, p.ActivityID)
		},
		Insert: tx.InsertActivity,
		Update: tx.UpdateActivity,
	}, p.Apply)
}
