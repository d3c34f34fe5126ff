package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DEFAULT_MAX_CONCURRENT = 5
	DEFAULT_HISTORY_LIMIT  = 100
	EVENT_BUFFER_SIZE      = 64
)

// JobPlan 策略产出的建单计划，一个计划对应一条作业
type JobPlan struct {
	IdempotencyKey string
	Payload        model.JobPayload
	MaxRetries     int
}

// Policy 域策略：判定是否需要建单、生成计划、执行作业
type Policy interface {
	Domain() string
	CheckTrigger(ctx context.Context) (bool, error)
	BuildPlans(ctx context.Context) ([]JobPlan, error)
	Execute(ctx context.Context, job *model.Job, payload *model.JobPayload) (*model.JobResult, error)
}

// JobEvent 作业状态变更通知，供日志流之外的观测方订阅
type JobEvent struct {
	JobID  string `json:"job_id"`
	Domain string `json:"domain"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Engine 单域作业编排引擎
//
// 状态机：pending -> processing -> {completed | failed}，
// processing -> pending 仅用于有界重试。终态不可再迁出。
type Engine struct {
	policy Policy
	jobs   dao.JobDAO
	tl     *zap.Logger

	dryRun        bool
	maxConcurrent int

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup

	events chan JobEvent
}

func NewEngine(policy Policy, jobs dao.JobDAO, cfg config.JobsConfig, tl *zap.Logger) *Engine {
	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = DEFAULT_MAX_CONCURRENT
	}
	return &Engine{
		policy:        policy,
		jobs:          jobs,
		tl:            tl,
		dryRun:        cfg.DryRun,
		maxConcurrent: maxConcurrent,
		inFlight:      make(map[string]struct{}),
		events:        make(chan JobEvent, EVENT_BUFFER_SIZE),
	}
}

// Events 状态变更订阅通道，消费不及时则丢弃通知
func (e *Engine) Events() <-chan JobEvent {
	return e.events
}

// InFlightCount 当前执行中的作业数
func (e *Engine) InFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// CreateIfNeeded 检查触发条件，按计划建单；同幂等键已有活跃作业时跳过
func (e *Engine) CreateIfNeeded(ctx context.Context) ([]*model.Job, error) {
	triggered, err := e.policy.CheckTrigger(ctx)
	if err != nil {
		return nil, fmt.Errorf("check trigger [%s]: %w", e.policy.Domain(), err)
	}
	if !triggered {
		return nil, nil
	}

	plans, err := e.policy.BuildPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("build plans [%s]: %w", e.policy.Domain(), err)
	}

	var created []*model.Job
	for _, plan := range plans {
		job, err := e.createFromPlan(ctx, plan)
		if err != nil {
			return created, err
		}
		if job != nil {
			created = append(created, job)
		}
	}
	return created, nil
}

// Submit 调用方直接提交作业（批处理域入口）；同幂等键下已有活跃作业时返回该作业
func (e *Engine) Submit(ctx context.Context, payload model.JobPayload, idempotencyKey string, maxRetries int) (*model.Job, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key required", model.ErrValidation)
	}
	if err := e.validatePayload(&payload); err != nil {
		return nil, err
	}

	active, err := e.jobs.GetActiveByKey(ctx, e.policy.Domain(), idempotencyKey)
	if err != nil {
		return nil, err
	}
	if active != nil {
		e.tl.Info("active job exists for idempotency key, returning existing",
			zap.String("domain", e.policy.Domain()),
			zap.String("idempotency_key", idempotencyKey),
			zap.String("job_id", active.ID))
		return active, nil
	}

	return e.persistNew(ctx, payload, idempotencyKey, maxRetries)
}

func (e *Engine) createFromPlan(ctx context.Context, plan JobPlan) (*model.Job, error) {
	if err := e.validatePayload(&plan.Payload); err != nil {
		return nil, err
	}

	active, err := e.jobs.GetActiveByKey(ctx, e.policy.Domain(), plan.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if active != nil {
		e.tl.Debug("skip plan, active job exists",
			zap.String("domain", e.policy.Domain()),
			zap.String("idempotency_key", plan.IdempotencyKey))
		return nil, nil
	}

	return e.persistNew(ctx, plan.Payload, plan.IdempotencyKey, plan.MaxRetries)
}

func (e *Engine) persistNew(ctx context.Context, payload model.JobPayload, idempotencyKey string, maxRetries int) (*model.Job, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", model.ErrValidation, err)
	}

	job := &model.Job{
		ID:             uuid.NewString(),
		Domain:         e.policy.Domain(),
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
		Status:         model.JOB_STATUS_PENDING,
		MaxRetries:     maxRetries,
		CreatedAt:      model.NowMilli(),
	}

	// 持久层不可用时直接上抛，作业不允许静默丢失
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	monitor.JobsCreated.WithLabelValues(job.Domain).Inc()
	e.publish(JobEvent{JobID: job.ID, Domain: job.Domain, Status: model.JOB_STATUS_PENDING})
	e.tl.Info("job created",
		zap.String("domain", job.Domain),
		zap.String("job_id", job.ID),
		zap.String("idempotency_key", idempotencyKey))
	return job, nil
}

// ProcessPending 按创建顺序派发pending作业，受并发上限约束
//
// 派发即返回，不等待执行完成；作业间无完成顺序保证。执行用的context
// 与调度tick解耦，tick超时不会中断已派发的作业。
func (e *Engine) ProcessPending(ctx context.Context) error {
	slots := e.maxConcurrent - e.InFlightCount()
	if slots <= 0 {
		return nil
	}

	jobs, err := e.jobs.ListPendingOldest(ctx, e.policy.Domain(), slots)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.acquire(job.ID) {
			continue
		}
		e.wg.Add(1)
		go e.processOne(context.WithoutCancel(ctx), job)
	}
	return nil
}

// Wait 等待所有已派发的作业执行结束
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) processOne(ctx context.Context, job *model.Job) {
	defer e.wg.Done()
	defer e.release(job.ID)

	ok, err := e.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		e.tl.Warn("mark processing failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		// 已被取消或被其他轮次拿走
		return
	}

	start := time.Now()
	defer func() {
		monitor.JobProcessDuration.WithLabelValues(job.Domain).Observe(time.Since(start).Seconds())
	}()

	if e.dryRun {
		e.completeDryRun(ctx, job)
		return
	}

	payload, err := model.UnmarshalPayload(job.Payload)
	if err != nil {
		e.fail(ctx, job, fmt.Sprintf("invalid payload: %v", err))
		return
	}

	result, execErr := e.policy.Execute(ctx, job, payload)
	if execErr != nil {
		if job.RetryCount < job.MaxRetries {
			e.requeue(ctx, job, execErr)
			return
		}
		e.fail(ctx, job, execErr.Error())
		return
	}

	e.complete(ctx, job, result)
}

// completeDryRun 干跑模式跳过执行器，直接完成并打Simulated标记
func (e *Engine) completeDryRun(ctx context.Context, job *model.Job) {
	result := &model.JobResult{Simulated: true}
	e.complete(ctx, job, result)
	e.tl.Info("dry-run job completed without execution",
		zap.String("domain", job.Domain),
		zap.String("job_id", job.ID))
}

func (e *Engine) complete(ctx context.Context, job *model.Job, result *model.JobResult) {
	var meta *datatypes.JSON
	if result != nil {
		m, err := result.Marshal()
		if err != nil {
			e.tl.Warn("marshal job result failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			meta = m
		}
	}

	if err := e.jobs.Complete(ctx, job.ID, meta); err != nil {
		e.tl.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	monitor.JobsCompleted.WithLabelValues(job.Domain).Inc()
	e.publish(JobEvent{JobID: job.ID, Domain: job.Domain, Status: model.JOB_STATUS_COMPLETED})
}

func (e *Engine) fail(ctx context.Context, job *model.Job, errMsg string) {
	if err := e.jobs.Fail(ctx, job.ID, errMsg); err != nil {
		e.tl.Error("fail job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	monitor.JobsFailed.WithLabelValues(job.Domain).Inc()
	e.publish(JobEvent{JobID: job.ID, Domain: job.Domain, Status: model.JOB_STATUS_FAILED, Error: errMsg})
	e.tl.Warn("job failed",
		zap.String("domain", job.Domain),
		zap.String("job_id", job.ID),
		zap.String("error", errMsg))
}

func (e *Engine) requeue(ctx context.Context, job *model.Job, execErr error) {
	if err := e.jobs.Requeue(ctx, job.ID, job.RetryCount+1); err != nil {
		e.tl.Error("requeue job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	monitor.JobsRetried.WithLabelValues(job.Domain).Inc()
	e.publish(JobEvent{JobID: job.ID, Domain: job.Domain, Status: model.JOB_STATUS_PENDING, Error: execErr.Error()})
	e.tl.Warn("job requeued for retry",
		zap.String("domain", job.Domain),
		zap.String("job_id", job.ID),
		zap.Int("retry_count", job.RetryCount+1),
		zap.Int("max_retries", job.MaxRetries),
		zap.Error(execErr))
}

// Cancel 取消pending作业；processing与终态作业不可取消
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s not found", model.ErrValidation, jobID)
	}

	ok, err := e.jobs.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %s is %s, only pending jobs can be cancelled", model.ErrValidation, jobID, job.Status)
	}

	e.publish(JobEvent{JobID: jobID, Domain: job.Domain, Status: model.JOB_STATUS_FAILED, Error: model.JOB_ERROR_CANCELLED})
	e.tl.Info("job cancelled", zap.String("domain", job.Domain), zap.String("job_id", jobID))
	return nil
}

// JobHistory 作业历史查询
func (e *Engine) JobHistory(ctx context.Context, filter model.JobFilter, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = DEFAULT_HISTORY_LIMIT
	}
	if filter.Domain == "" {
		filter.Domain = e.policy.Domain()
	}
	return e.jobs.History(ctx, filter, limit)
}

// validatePayload 恰好一个分支非空且与引擎域一致
func (e *Engine) validatePayload(p *model.JobPayload) error {
	arms := 0
	if p.GasTopUp != nil {
		arms++
	}
	if p.Rebalance != nil {
		arms++
	}
	if p.BatchOps != nil {
		arms++
	}
	if arms != 1 {
		return fmt.Errorf("%w: payload must have exactly one domain arm, got %d", model.ErrValidation, arms)
	}
	if p.Domain() != e.policy.Domain() {
		return fmt.Errorf("%w: payload domain %s does not match engine domain %s", model.ErrValidation, p.Domain(), e.policy.Domain())
	}
	return nil
}

func (e *Engine) acquire(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inFlight) >= e.maxConcurrent {
		return false
	}
	if _, exists := e.inFlight[jobID]; exists {
		return false
	}
	e.inFlight[jobID] = struct{}{}
	monitor.JobsInFlight.WithLabelValues(e.policy.Domain()).Set(float64(len(e.inFlight)))
	return true
}

func (e *Engine) release(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, jobID)
	monitor.JobsInFlight.WithLabelValues(e.policy.Domain()).Set(float64(len(e.inFlight)))
}

func (e *Engine) publish(ev JobEvent) {
	select {
	case e.events <- ev:
	default:
	}
}
