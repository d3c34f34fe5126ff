package dao

import (
	"context"
	"errors"
	"fmt"
	"time"
	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"
	"treasury-worker/pkg/utils"

	"github.com/bytedance/sonic"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// walletGroupDAO 实现WalletGroupDAO接口
type walletGroupDAO struct {
	cfg        *config.Config
	db         *gorm.DB
	rds        *redis.Client
	localCache *cache.Cache
}

// NewWalletGroupDAO 创建WalletGroupDAO实例
func NewWalletGroupDAO(cfg *config.Config, db *gorm.DB, rds *redis.Client) WalletGroupDAO {
	localCache := cache.New(10*time.Minute, time.Minute)
	return &walletGroupDAO{
		cfg:        cfg,
		db:         db,
		rds:        rds,
		localCache: localCache,
	}
}

func (d *walletGroupDAO) GetByName(ctx context.Context, name string) (*model.WalletGroup, error) {
	cacheKey := utils.WalletGroupKey(name)

	if cached, found := d.localCache.Get(cacheKey); found {
		if group, ok := cached.(*model.WalletGroup); ok {
			return group, nil
		}
	}

	if d.rds != nil {
		if cached, err := d.rds.Get(ctx, cacheKey).Result(); err == nil {
			var group model.WalletGroup
			if sonic.Unmarshal([]byte(cached), &group) == nil {
				d.localCache.Set(cacheKey, &group, cache.DefaultExpiration)
				return &group, nil
			}
		}
	}

	var group model.WalletGroup
	err := d.db.WithContext(ctx).
		Where("name = ?", name).
		First(&group).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get wallet group: %v", model.ErrPersistenceUnavailable, err)
	}

	d.localCache.Set(cacheKey, &group, cache.DefaultExpiration)
	if d.rds != nil {
		if data, mErr := sonic.Marshal(&group); mErr == nil {
			d.rds.Set(ctx, cacheKey, string(data), 10*time.Minute)
		}
	}
	return &group, nil
}

func (d *walletGroupDAO) ListEnabled(ctx context.Context) ([]*model.WalletGroup, error) {
	var groups []*model.WalletGroup
	err := d.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&groups).Error

	if err != nil {
		return nil, fmt.Errorf("%w: list wallet groups: %v", model.ErrPersistenceUnavailable, err)
	}
	return groups, nil
}

func (d *walletGroupDAO) Upsert(ctx context.Context, group *model.WalletGroup) error {
	now := time.Now().UnixMilli()
	if group.CreatedAt == 0 {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"wallets":    gorm.Expr("EXCLUDED.wallets"),
			"enabled":    gorm.Expr("EXCLUDED.enabled"),
			"updated_at": gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(group).Error

	if err != nil {
		return fmt.Errorf("%w: upsert wallet group: %v", model.ErrPersistenceUnavailable, err)
	}

	// 清缓存，下次读取回源
	cacheKey := utils.WalletGroupKey(group.Name)
	d.localCache.Delete(cacheKey)
	if d.rds != nil {
		d.rds.Del(ctx, cacheKey)
	}
	return nil
}
