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

// balanceDAO 实现BalanceDAO接口
type balanceDAO struct {
	cfg        *config.Config
	db         *gorm.DB
	rds        *redis.Client
	localCache *cache.Cache
}

// NewBalanceDAO 创建BalanceDAO实例
func NewBalanceDAO(cfg *config.Config, db *gorm.DB, rds *redis.Client) BalanceDAO {
	localCache := cache.New(time.Minute, time.Minute)
	return &balanceDAO{
		cfg:        cfg,
		db:         db,
		rds:        rds,
		localCache: localCache,
	}
}

func (d *balanceDAO) Upsert(ctx context.Context, snapshot *model.BalanceSnapshot) error {
	snapshot.UpdatedAt = time.Now().UnixMilli()

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "wallet_address"},
			{Name: "token_address"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"symbol":       gorm.Expr("EXCLUDED.symbol"),
			"amount":       gorm.Expr("EXCLUDED.amount"),
			"value_usd":    gorm.Expr("EXCLUDED.value_usd"),
			"block_number": gorm.Expr("EXCLUDED.block_number"),
			"updated_at":   gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(snapshot).Error

	if err != nil {
		return fmt.Errorf("%w: upsert balance: %v", model.ErrPersistenceUnavailable, err)
	}

	// 覆盖缓存
	cacheKey := utils.BalanceSnapshotKey(snapshot.WalletAddress, snapshot.TokenAddress)
	d.localCache.Set(cacheKey, snapshot, cache.DefaultExpiration)
	if d.rds != nil {
		if data, err := sonic.Marshal(snapshot); err == nil {
			d.rds.Set(ctx, cacheKey, string(data), 5*time.Minute)
		}
	}
	return nil
}

func (d *balanceDAO) LatestNative(ctx context.Context, walletAddress string) (*model.BalanceSnapshot, error) {
	cacheKey := utils.BalanceSnapshotKey(walletAddress, model.NATIVE_TOKEN_ADDRESS)

	// 先查本地缓存
	if cached, found := d.localCache.Get(cacheKey); found {
		if snap, ok := cached.(*model.BalanceSnapshot); ok {
			return snap, nil
		}
	}

	// 再查Redis缓存
	if d.rds != nil {
		if cached, err := d.rds.Get(ctx, cacheKey).Result(); err == nil {
			var snap model.BalanceSnapshot
			if sonic.Unmarshal([]byte(cached), &snap) == nil {
				d.localCache.Set(cacheKey, &snap, cache.DefaultExpiration)
				return &snap, nil
			}
		}
	}

	// 查数据库
	var snap model.BalanceSnapshot
	err := d.db.WithContext(ctx).
		Where("wallet_address = ? AND token_address = ?", walletAddress, model.NATIVE_TOKEN_ADDRESS).
		First(&snap).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: latest native balance: %v", model.ErrPersistenceUnavailable, err)
	}

	d.localCache.Set(cacheKey, &snap, cache.DefaultExpiration)
	if d.rds != nil {
		if data, mErr := sonic.Marshal(&snap); mErr == nil {
			d.rds.Set(ctx, cacheKey, string(data), 5*time.Minute)
		}
	}
	return &snap, nil
}

func (d *balanceDAO) ListForWallet(ctx context.Context, walletAddress string) ([]*model.BalanceSnapshot, error) {
	var snaps []*model.BalanceSnapshot
	err := d.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Find(&snaps).Error

	if err != nil {
		return nil, fmt.Errorf("%w: list balances: %v", model.ErrPersistenceUnavailable, err)
	}
	return snaps, nil
}

func (d *balanceDAO) ListForWallets(ctx context.Context, walletAddresses []string) ([]*model.BalanceSnapshot, error) {
	if len(walletAddresses) == 0 {
		return nil, nil
	}

	var snaps []*model.BalanceSnapshot
	err := d.db.WithContext(ctx).
		Where("wallet_address IN ?", walletAddresses).
		Find(&snaps).Error

	if err != nil {
		return nil, fmt.Errorf("%w: list balances: %v", model.ErrPersistenceUnavailable, err)
	}
	return snaps, nil
}
