package orchestrator

import (
	"context"
	"fmt"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"

	"go.uber.org/zap"
)

const (
	DEFAULT_OP_ATTEMPTS = 3
	OP_RETRY_DELAY      = 100 * time.Millisecond
	OP_RESULT_COMPLETED = "completed"
	OP_RESULT_FAILED    = "failed"
)

// OperationExecutor 执行批处理单个链上动作的协作方
type OperationExecutor interface {
	ExecuteOperation(ctx context.Context, op model.BatchOperation) (txHash string, err error)
}

// BatchOpPolicy 批处理域为调用方驱动：不自建单，作业通过引擎Submit进入
//
// 单个动作失败不中断批次，逐动作带上限重试后汇总为
// completed / partial / failed 三态结果。
type BatchOpPolicy struct {
	cfg      config.BatchConfig
	executor OperationExecutor
	tl       *zap.Logger

	maxAttempts int
}

func NewBatchOpPolicy(cfg config.BatchConfig, executor OperationExecutor, tl *zap.Logger) *BatchOpPolicy {
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = DEFAULT_OP_ATTEMPTS
	}
	return &BatchOpPolicy{
		cfg:         cfg,
		executor:    executor,
		tl:          tl,
		maxAttempts: maxAttempts,
	}
}

func (p *BatchOpPolicy) Domain() string {
	return model.JOB_DOMAIN_BATCH_OP
}

func (p *BatchOpPolicy) CheckTrigger(ctx context.Context) (bool, error) {
	return false, nil
}

func (p *BatchOpPolicy) BuildPlans(ctx context.Context) ([]JobPlan, error) {
	return nil, nil
}

// ValidateOperations 提交前校验动作列表，非法动作整批拒绝
func (p *BatchOpPolicy) ValidateOperations(ops []model.BatchOperation) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: batch must contain at least one operation", model.ErrValidation)
	}
	for i, op := range ops {
		if err := validateOperation(op); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

func validateOperation(op model.BatchOperation) error {
	switch op.Type {
	case model.BATCH_OP_TRANSFER:
		if op.To == "" {
			return fmt.Errorf("%w: transfer requires to address", model.ErrValidation)
		}
	case model.BATCH_OP_APPROVE:
		if op.Spender == "" {
			return fmt.Errorf("%w: approve requires spender", model.ErrValidation)
		}
	case model.BATCH_OP_TRADE:
		if op.Symbol == "" || op.Side == "" {
			return fmt.Errorf("%w: trade requires symbol and side", model.ErrValidation)
		}
	case model.BATCH_OP_LIMIT_ORDER:
		if op.Symbol == "" || op.Side == "" || op.LimitPrice.Sign() <= 0 {
			return fmt.Errorf("%w: limit order requires symbol, side and positive limit price", model.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", model.ErrValidation, op.Type)
	}
	if op.Wallet == "" {
		return fmt.Errorf("%w: operation requires wallet", model.ErrValidation)
	}
	if op.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: operation amount must be positive", model.ErrValidation)
	}
	return nil
}

func (p *BatchOpPolicy) Execute(ctx context.Context, job *model.Job, payload *model.JobPayload) (*model.JobResult, error) {
	if payload.BatchOps == nil {
		return nil, fmt.Errorf("%w: batch payload missing", model.ErrValidation)
	}
	ops := payload.BatchOps.Operations
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: batch payload has no operations", model.ErrValidation)
	}

	results := make([]model.OperationResult, 0, len(ops))
	succeeded := 0
	for i, op := range ops {
		res := p.executeOne(ctx, i, op)
		if res.Status == OP_RESULT_COMPLETED {
			succeeded++
		}
		results = append(results, res)
	}

	batchStatus := model.BATCH_RESULT_PARTIAL
	switch succeeded {
	case len(ops):
		batchStatus = model.BATCH_RESULT_COMPLETED
	case 0:
		batchStatus = model.BATCH_RESULT_FAILED
	}

	p.tl.Info("batch executed",
		zap.String("job_id", job.ID),
		zap.Int("operations", len(ops)),
		zap.Int("succeeded", succeeded),
		zap.String("batch_status", batchStatus))

	return &model.JobResult{BatchStatus: batchStatus, Operations: results}, nil
}

// executeOne 单个动作带上限重试，耗尽后记为失败但不影响其余动作
func (p *BatchOpPolicy) executeOne(ctx context.Context, index int, op model.BatchOperation) model.OperationResult {
	res := model.OperationResult{Index: index}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		res.Attempts = attempt

		txHash, err := p.executor.ExecuteOperation(ctx, op)
		if err == nil {
			res.Status = OP_RESULT_COMPLETED
			res.TxHash = txHash
			return res
		}
		lastErr = err
		p.tl.Warn("batch operation attempt failed",
			zap.Int("index", index),
			zap.String("type", op.Type),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				res.Status = OP_RESULT_FAILED
				res.Error = ctx.Err().Error()
				return res
			case <-time.After(OP_RETRY_DELAY):
			}
		}
	}

	res.Status = OP_RESULT_FAILED
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res
}
