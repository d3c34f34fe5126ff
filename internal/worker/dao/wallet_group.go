package dao

import (
	"context"
	"treasury-worker/internal/worker/model"
)

// WalletGroupDAO 定义钱包分组的数据访问接口
type WalletGroupDAO interface {
	// GetByName 按组名查询，无记录返回nil
	GetByName(ctx context.Context, name string) (*model.WalletGroup, error)

	// ListEnabled 查询所有启用的分组
	ListEnabled(ctx context.Context) ([]*model.WalletGroup, error)

	// Upsert 创建或更新分组
	Upsert(ctx context.Context, group *model.WalletGroup) error
}
