package job

import (
	"context"

	"treasury-worker/internal/worker/orchestrator"

	"go.uber.org/zap"
)

// EngineTick 驱动单个编排引擎的周期任务：按需建单后处理pending
//
// 批处理域作业由调用方Submit进入，只做处理不建单。
type EngineTick struct {
	engine       *orchestrator.Engine
	createOnTick bool
	tl           *zap.Logger
}

// NewEngineTick 创建引擎驱动任务
func NewEngineTick(engine *orchestrator.Engine, createOnTick bool, tl *zap.Logger) *EngineTick {
	return &EngineTick{
		engine:       engine,
		createOnTick: createOnTick,
		tl:           tl,
	}
}

// Run 执行单个周期
func (j *EngineTick) Run(ctx context.Context) error {
	if j.createOnTick {
		created, err := j.engine.CreateIfNeeded(ctx)
		if err != nil {
			j.tl.Warn("create jobs failed", zap.Error(err))
		} else if len(created) > 0 {
			j.tl.Info("jobs created on tick", zap.Int("count", len(created)))
		}
	}

	return j.engine.ProcessPending(ctx)
}
