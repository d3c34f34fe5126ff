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
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// jobDAO 实现JobDAO接口
type jobDAO struct {
	cfg        *config.Config
	db         *gorm.DB
	rds        *redis.Client
	localCache *cache.Cache
}

// NewJobDAO 创建JobDAO实例
func NewJobDAO(cfg *config.Config, db *gorm.DB, rds *redis.Client) JobDAO {
	localCache := cache.New(30*time.Second, time.Minute)
	return &jobDAO{
		cfg:        cfg,
		db:         db,
		rds:        rds,
		localCache: localCache,
	}
}

// Create 持久化新作业，失败直接上抛
func (d *jobDAO) Create(ctx context.Context, job *model.Job) error {
	if err := d.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("%w: create job: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (d *jobDAO) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := d.db.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetActiveByKey 活跃作业去重查询，不走缓存，避免破坏幂等不变式
func (d *jobDAO) GetActiveByKey(ctx context.Context, domain, idempotencyKey string) (*model.Job, error) {
	var job model.Job
	err := d.db.WithContext(ctx).
		Where("domain = ? AND idempotency_key = ?", domain, idempotencyKey).
		Where("status IN ?", []string{model.JOB_STATUS_PENDING, model.JOB_STATUS_PROCESSING}).
		First(&job).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query active job: %v", model.ErrPersistenceUnavailable, err)
	}
	return &job, nil
}

func (d *jobDAO) ListPendingOldest(ctx context.Context, domain string, limit int) ([]*model.Job, error) {
	var jobs []*model.Job
	err := d.db.WithContext(ctx).
		Where("domain = ? AND status = ?", domain, model.JOB_STATUS_PENDING).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error

	if err != nil {
		return nil, fmt.Errorf("%w: list pending jobs: %v", model.ErrPersistenceUnavailable, err)
	}
	return jobs, nil
}

// MarkProcessing 条件更新保证只从pending迁入
func (d *jobDAO) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := d.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JOB_STATUS_PENDING).
		Update("status", model.JOB_STATUS_PROCESSING)

	if result.Error != nil {
		return false, fmt.Errorf("%w: mark processing: %v", model.ErrPersistenceUnavailable, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (d *jobDAO) Complete(ctx context.Context, id string, resultMeta *datatypes.JSON) error {
	now := time.Now().UnixMilli()
	err := d.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, []string{model.JOB_STATUS_PENDING, model.JOB_STATUS_PROCESSING}).
		Updates(map[string]interface{}{
			"status":          model.JOB_STATUS_COMPLETED,
			"result_metadata": resultMeta,
			"completed_at":    now,
		}).Error

	if err != nil {
		return fmt.Errorf("%w: complete job: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (d *jobDAO) Fail(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UnixMilli()
	err := d.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, []string{model.JOB_STATUS_PENDING, model.JOB_STATUS_PROCESSING}).
		Updates(map[string]interface{}{
			"status":        model.JOB_STATUS_FAILED,
			"error_message": errMsg,
			"completed_at":  now,
		}).Error

	if err != nil {
		return fmt.Errorf("%w: fail job: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

func (d *jobDAO) Requeue(ctx context.Context, id string, retryCount int) error {
	err := d.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JOB_STATUS_PROCESSING).
		Updates(map[string]interface{}{
			"status":      model.JOB_STATUS_PENDING,
			"retry_count": retryCount,
		}).Error

	if err != nil {
		return fmt.Errorf("%w: requeue job: %v", model.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Cancel 条件更新保证只有pending作业可被取消，processing与终态不受影响
func (d *jobDAO) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UnixMilli()
	result := d.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JOB_STATUS_PENDING).
		Updates(map[string]interface{}{
			"status":        model.JOB_STATUS_FAILED,
			"error_message": model.JOB_ERROR_CANCELLED,
			"completed_at":  now,
		})

	if result.Error != nil {
		return false, fmt.Errorf("%w: cancel job: %v", model.ErrPersistenceUnavailable, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// History 观测性查询，走本地+Redis缓存降低DB压力
func (d *jobDAO) History(ctx context.Context, filter model.JobFilter, limit int) ([]*model.Job, error) {
	cacheKey := utils.JobHistoryKey(filter.Domain, filter.Status, limit)

	// 只有无时间窗过滤的查询可缓存
	cacheable := filter.CreatedAfter == 0 && filter.CreatedBefore == 0
	if cacheable {
		if cached, found := d.localCache.Get(cacheKey); found {
			if jobs, ok := cached.([]*model.Job); ok {
				return jobs, nil
			}
		}
		if d.rds != nil {
			if cached, err := d.rds.Get(ctx, cacheKey).Result(); err == nil {
				var jobs []*model.Job
				if sonic.Unmarshal([]byte(cached), &jobs) == nil {
					d.localCache.Set(cacheKey, jobs, cache.DefaultExpiration)
					return jobs, nil
				}
			}
		}
	}

	query := d.db.WithContext(ctx).Model(&model.Job{})
	if filter.Domain != "" {
		query = query.Where("domain = ?", filter.Domain)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedAfter > 0 {
		query = query.Where("created_at > ?", filter.CreatedAfter)
	}
	if filter.CreatedBefore > 0 {
		query = query.Where("created_at < ?", filter.CreatedBefore)
	}

	var jobs []*model.Job
	if err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("%w: job history: %v", model.ErrPersistenceUnavailable, err)
	}

	if cacheable {
		d.localCache.Set(cacheKey, jobs, cache.DefaultExpiration)
		if d.rds != nil {
			if data, err := sonic.Marshal(jobs); err == nil {
				d.rds.Set(ctx, cacheKey, string(data), 30*time.Second)
			}
		}
	}
	return jobs, nil
}

func (d *jobDAO) DeleteTerminalBefore(ctx context.Context, cutoffMilli int64) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("status IN ?", []string{model.JOB_STATUS_COMPLETED, model.JOB_STATUS_FAILED}).
		Where("created_at < ?", cutoffMilli).
		Delete(&model.Job{})

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
