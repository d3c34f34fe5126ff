package dao

import (
	"context"
	"treasury-worker/internal/worker/model"

	"gorm.io/datatypes"
)

// JobDAO 定义作业数据访问接口，状态迁移语义由编排器负责
type JobDAO interface {
	// Create 持久化新作业；持久层不可用时立即报错，作业不会静默丢失
	Create(ctx context.Context, job *model.Job) error

	// GetByID 通过ID查询作业
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// GetActiveByKey 查询同域同幂等键下的活跃作业（pending/processing）
	GetActiveByKey(ctx context.Context, domain, idempotencyKey string) (*model.Job, error)

	// ListPendingOldest 按创建时间升序加载 pending 作业
	ListPendingOldest(ctx context.Context, domain string, limit int) ([]*model.Job, error)

	// MarkProcessing pending -> processing，返回是否实际迁移
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// Complete processing -> completed，写入结果元数据
	Complete(ctx context.Context, id string, result *datatypes.JSON) error

	// Fail 迁移到 failed 终态并记录错误信息
	Fail(ctx context.Context, id string, errMsg string) error

	// Requeue processing -> pending，用于有界重试
	Requeue(ctx context.Context, id string, retryCount int) error

	// Cancel pending -> failed(cancelled_by_user)，仅pending可取消，返回是否实际迁移
	Cancel(ctx context.Context, id string) (bool, error)

	// History 按过滤条件查询作业历史，创建时间降序
	History(ctx context.Context, filter model.JobFilter, limit int) ([]*model.Job, error)

	// DeleteTerminalBefore 清理早于cutoff的终态作业，返回删除行数
	DeleteTerminalBefore(ctx context.Context, cutoffMilli int64) (int64, error)
}
