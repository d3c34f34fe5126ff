package dao

import (
	"context"
	"treasury-worker/internal/worker/model"
)

// EventDAO 定义链上事件日志的数据访问接口
type EventDAO interface {
	// BatchInsert 批量落库，(tx_hash, log_index) 冲突时忽略
	BatchInsert(ctx context.Context, events []model.ChainEvent) error

	// RecentByAddress 查询某地址最近的事件，区块号降序
	RecentByAddress(ctx context.Context, address string, limit int) ([]*model.ChainEvent, error)
}
