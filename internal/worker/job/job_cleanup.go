package job

import (
	"context"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"

	"go.uber.org/zap"
)

const DEFAULT_RETENTION_HOURS = 720

// JobCleanup 定时清理超过保留期的终态作业
type JobCleanup struct {
	cfg    config.JobsConfig
	jobDAO dao.JobDAO
	tl     *zap.Logger
}

// NewJobCleanup 创建作业清理任务
func NewJobCleanup(cfg config.JobsConfig, jobDAO dao.JobDAO, tl *zap.Logger) *JobCleanup {
	return &JobCleanup{
		cfg:    cfg,
		jobDAO: jobDAO,
		tl:     tl,
	}
}

// Run 执行清理
func (j *JobCleanup) Run(ctx context.Context) error {
	retention := j.cfg.RetentionHours
	if retention <= 0 {
		retention = DEFAULT_RETENTION_HOURS
	}
	cutoff := time.Now().Add(-time.Duration(retention) * time.Hour).UnixMilli()

	deleted, err := j.jobDAO.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		j.tl.Warn("job cleanup failed",
			zap.Int64("cutoff_timestamp", cutoff),
			zap.Error(err))
		return err
	}

	if deleted > 0 {
		j.tl.Info("terminal jobs cleaned up",
			zap.Int64("deleted_rows", deleted),
			zap.Int64("cutoff_timestamp", cutoff))
	}
	return nil
}
