package dao

import (
	"context"
	"fmt"
	"time"
	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// eventDAO 实现EventDAO接口
type eventDAO struct {
	cfg *config.Config
	db  *gorm.DB
}

// NewEventDAO 创建EventDAO实例
func NewEventDAO(cfg *config.Config, db *gorm.DB) EventDAO {
	return &eventDAO{
		cfg: cfg,
		db:  db,
	}
}

func (d *eventDAO) BatchInsert(ctx context.Context, events []model.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}

	newCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// 同一事件重复扫描时按唯一索引 uniq_event 去重
	err := d.db.WithContext(newCtx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tx_hash"},
			{Name: "log_index"},
		},
		DoNothing: true,
	}).CreateInBatches(events, 500).Error

	if err != nil {
		return fmt.Errorf("%w: batch insert events: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (d *eventDAO) RecentByAddress(ctx context.Context, address string, limit int) ([]*model.ChainEvent, error) {
	var events []*model.ChainEvent
	err := d.db.WithContext(ctx).
		Where("from_address = ? OR to_address = ?", address, address).
		Order("block_number DESC").
		Limit(limit).
		Find(&events).Error

	if err != nil {
		return nil, fmt.Errorf("%w: recent events: %v", model.ErrPersistenceUnavailable, err)
	}
	return events, nil
}
