package dao

import (
	"treasury-worker/internal/worker/config"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DAOManager 管理所有DAO实例
type DAOManager struct {
	JobDAO         JobDAO
	EventDAO       EventDAO
	BalanceDAO     BalanceDAO
	WalletGroupDAO WalletGroupDAO
}

// NewDAOManager 创建DAO管理器实例
func NewDAOManager(cfg *config.Config, db *gorm.DB, rds *redis.Client) *DAOManager {
	return &DAOManager{
		JobDAO:         NewJobDAO(cfg, db, rds),
		EventDAO:       NewEventDAO(cfg, db),
		BalanceDAO:     NewBalanceDAO(cfg, db, rds),
		WalletGroupDAO: NewWalletGroupDAO(cfg, db, rds),
	}
}
