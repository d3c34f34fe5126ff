package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func unmarshalResult(raw datatypes.JSON, out *model.JobResult) error {
	return sonic.Unmarshal(raw, out)
}

// memJobDAO 内存版JobDAO，语义对齐SQL实现的条件更新
type memJobDAO struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	createErr error
}

func newMemJobDAO() *memJobDAO {
	return &memJobDAO{jobs: make(map[string]*model.Job)}
}

func (m *memJobDAO) Create(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobDAO) GetByID(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (m *memJobDAO) GetActiveByKey(ctx context.Context, domain, idempotencyKey string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Domain == domain && j.IdempotencyKey == idempotencyKey && j.IsActive() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memJobDAO) ListPendingOldest(ctx context.Context, domain string, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.Domain == domain && j.Status == model.JOB_STATUS_PENDING {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt < out[k].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobDAO) MarkProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JOB_STATUS_PENDING {
		return false, nil
	}
	j.Status = model.JOB_STATUS_PROCESSING
	return true, nil
}

func (m *memJobDAO) Complete(ctx context.Context, id string, result *datatypes.JSON) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.IsTerminal() {
		return nil
	}
	now := model.NowMilli()
	j.Status = model.JOB_STATUS_COMPLETED
	j.ResultMetadata = result
	j.CompletedAt = &now
	return nil
}

func (m *memJobDAO) Fail(ctx context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.IsTerminal() {
		return nil
	}
	now := model.NowMilli()
	j.Status = model.JOB_STATUS_FAILED
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return nil
}

func (m *memJobDAO) Requeue(ctx context.Context, id string, retryCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JOB_STATUS_PROCESSING {
		return nil
	}
	j.Status = model.JOB_STATUS_PENDING
	j.RetryCount = retryCount
	return nil
}

func (m *memJobDAO) Cancel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JOB_STATUS_PENDING {
		return false, nil
	}
	now := model.NowMilli()
	j.Status = model.JOB_STATUS_FAILED
	j.ErrorMessage = model.JOB_ERROR_CANCELLED
	j.CompletedAt = &now
	return true, nil
}

func (m *memJobDAO) History(ctx context.Context, filter model.JobFilter, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if filter.Domain != "" && j.Domain != filter.Domain {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt > out[k].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobDAO) DeleteTerminalBefore(ctx context.Context, cutoffMilli int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, j := range m.jobs {
		if j.IsTerminal() && j.CreatedAt < cutoffMilli {
			delete(m.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memJobDAO) statusOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

// stubPolicy 可编程策略，域固定为gas_topup；execGate非空时执行器阻塞直到放行
type stubPolicy struct {
	triggered  bool
	plans      []JobPlan
	execErr    error
	execGate   chan struct{}
	execCalls  atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (s *stubPolicy) Domain() string { return model.JOB_DOMAIN_GAS_TOPUP }

func (s *stubPolicy) CheckTrigger(ctx context.Context) (bool, error) { return s.triggered, nil }

func (s *stubPolicy) BuildPlans(ctx context.Context) ([]JobPlan, error) { return s.plans, nil }

func (s *stubPolicy) Execute(ctx context.Context, job *model.Job, payload *model.JobPayload) (*model.JobResult, error) {
	s.execCalls.Add(1)
	if s.execGate != nil {
		cur := s.running.Add(1)
		for {
			peak := s.maxRunning.Load()
			if cur <= peak || s.maxRunning.CompareAndSwap(peak, cur) {
				break
			}
		}
		<-s.execGate
		s.running.Add(-1)
	}
	if s.execErr != nil {
		return nil, s.execErr
	}
	return &model.JobResult{TxHash: "0xstub"}, nil
}

func gasPlan(wallet string, maxRetries int) JobPlan {
	return JobPlan{
		IdempotencyKey: "gas_topup:" + wallet,
		MaxRetries:     maxRetries,
		Payload: model.JobPayload{
			GasTopUp: &model.GasTopUpPayload{
				WalletAddress:  wallet,
				CurrentBalance: decimal.NewFromFloat(0.001),
				TopUpAmount:    decimal.NewFromFloat(0.014),
			},
		},
	}
}

func newTestEngine(policy Policy, jobs *memJobDAO, dryRun bool) *Engine {
	return NewEngine(policy, jobs, config.JobsConfig{MaxConcurrentJobs: 3, DryRun: dryRun}, zap.NewNop())
}

func TestCreateIfNeededDeduplicatesActiveKey(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	created, err := e.CreateIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created, got %d", len(created))
	}

	// 同幂等键下已有活跃作业，不得再建
	again, err := e.CreateIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 created while active, got %d", len(again))
	}
}

func TestCreateIfNeededNotTriggered(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: false, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	created, err := e.CreateIfNeeded(context.Background())
	if err != nil || len(created) != 0 {
		t.Fatalf("expected no jobs without trigger, got %d err %v", len(created), err)
	}
}

func TestCreateIfNeededPersistenceFailure(t *testing.T) {
	jobs := newMemJobDAO()
	jobs.createErr = model.ErrPersistenceUnavailable
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	_, err := e.CreateIfNeeded(context.Background())
	if !errors.Is(err, model.ErrPersistenceUnavailable) {
		t.Fatalf("expected persistence error surfaced, got %v", err)
	}
}

func TestProcessPendingCompletesJob(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	created, _ := e.CreateIfNeeded(context.Background())
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()

	job, _ := jobs.GetByID(context.Background(), created[0].ID)
	if job.Status != model.JOB_STATUS_COMPLETED {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
	if policy.execCalls.Load() != 1 {
		t.Fatalf("expected 1 execution, got %d", policy.execCalls.Load())
	}
	if e.InFlightCount() != 0 {
		t.Fatalf("expected in-flight drained, got %d", e.InFlightCount())
	}
}

func TestProcessPendingRetriesThenFails(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 1)}, execErr: errors.New("rpc down")}
	e := newTestEngine(policy, jobs, false)

	created, _ := e.CreateIfNeeded(context.Background())
	id := created[0].ID

	// 第一轮：执行失败但还有重试额度，回到pending
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()
	if got := jobs.statusOf(id); got != model.JOB_STATUS_PENDING {
		t.Fatalf("expected requeued to pending, got %s", got)
	}

	// 第二轮：重试额度耗尽，落终态failed
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()
	if got := jobs.statusOf(id); got != model.JOB_STATUS_FAILED {
		t.Fatalf("expected failed after retries exhausted, got %s", got)
	}
	if policy.execCalls.Load() != 2 {
		t.Fatalf("expected 2 executions, got %d", policy.execCalls.Load())
	}
}

func TestDryRunSkipsExecutor(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, true)

	created, _ := e.CreateIfNeeded(context.Background())
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()

	job, _ := jobs.GetByID(context.Background(), created[0].ID)
	if job.Status != model.JOB_STATUS_COMPLETED {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if policy.execCalls.Load() != 0 {
		t.Fatal("dry-run must not call executor")
	}

	var result model.JobResult
	if job.ResultMetadata == nil {
		t.Fatal("expected result metadata")
	}
	if err := unmarshalResult(*job.ResultMetadata, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Simulated {
		t.Fatal("expected simulated flag on dry-run result")
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	created, _ := e.CreateIfNeeded(context.Background())
	id := created[0].ID

	if err := e.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel pending should succeed: %v", err)
	}
	job, _ := jobs.GetByID(context.Background(), id)
	if job.Status != model.JOB_STATUS_FAILED || job.ErrorMessage != model.JOB_ERROR_CANCELLED {
		t.Fatalf("expected failed/%s, got %s/%s", model.JOB_ERROR_CANCELLED, job.Status, job.ErrorMessage)
	}

	// 终态不可再取消
	if err := e.Cancel(context.Background(), id); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error on terminal cancel, got %v", err)
	}
	if err := e.Cancel(context.Background(), "missing-id"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error on unknown id, got %v", err)
	}
}

func TestSubmitReturnsExistingActiveJob(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{}
	e := newTestEngine(policy, jobs, false)

	payload := gasPlan("0xbbb", 0).Payload
	first, err := e.Submit(context.Background(), payload, "gas_topup:0xbbb", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Submit(context.Background(), payload, "gas_topup:0xbbb", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same active job, got %s vs %s", first.ID, second.ID)
	}
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	jobs := newMemJobDAO()
	e := newTestEngine(&stubPolicy{}, jobs, false)

	// 空payload
	if _, err := e.Submit(context.Background(), model.JobPayload{}, "k", 0); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// 域不匹配
	wrong := model.JobPayload{BatchOps: &model.BatchOpsPayload{}}
	if _, err := e.Submit(context.Background(), wrong, "k", 0); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected domain mismatch error, got %v", err)
	}
	// 幂等键缺失
	if _, err := e.Submit(context.Background(), gasPlan("0xccc", 0).Payload, "", 0); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected key required error, got %v", err)
	}
}

func TestInFlightCap(t *testing.T) {
	jobs := newMemJobDAO()
	e := NewEngine(&stubPolicy{}, jobs, config.JobsConfig{MaxConcurrentJobs: 2}, zap.NewNop())

	if !e.acquire("a") || !e.acquire("b") {
		t.Fatal("expected two slots available")
	}
	if e.acquire("c") {
		t.Fatal("expected cap enforced at 2")
	}
	if e.acquire("a") {
		t.Fatal("duplicate id must not acquire")
	}
	e.release("a")
	if !e.acquire("c") {
		t.Fatal("expected slot after release")
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestProcessPendingDispatchesConcurrentlyUpToCap(t *testing.T) {
	jobs := newMemJobDAO()
	gate := make(chan struct{})
	policy := &stubPolicy{
		triggered: true,
		execGate:  gate,
		plans:     []JobPlan{gasPlan("0xaaa", 0), gasPlan("0xbbb", 0), gasPlan("0xccc", 0)},
	}
	e := NewEngine(policy, jobs, config.JobsConfig{MaxConcurrentJobs: 2}, zap.NewNop())

	created, err := e.CreateIfNeeded(context.Background())
	if err != nil || len(created) != 3 {
		t.Fatalf("expected 3 jobs created, got %d err %v", len(created), err)
	}

	// 派发后立即返回，不等待执行器完成
	done := make(chan error, 1)
	go func() { done <- e.ProcessPending(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessPending must return without waiting for executions")
	}

	// 两个执行器同时在跑，占满并发槽位
	waitUntil(t, func() bool { return policy.running.Load() == 2 }, "expected 2 executors running concurrently")
	if got := e.InFlightCount(); got != 2 {
		t.Fatalf("expected in-flight 2 at cap, got %d", got)
	}

	// 槽位占满时再派发不产生新的执行
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policy.execCalls.Load(); got != 2 {
		t.Fatalf("expected no dispatch beyond cap, exec calls %d", got)
	}

	close(gate)
	e.Wait()

	// 槽位释放后下一轮派发第三个作业
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()

	if peak := policy.maxRunning.Load(); peak != 2 {
		t.Fatalf("expected concurrency high-water 2, got %d", peak)
	}
	for _, job := range created {
		if got := jobs.statusOf(job.ID); got != model.JOB_STATUS_COMPLETED {
			t.Fatalf("expected job %s completed, got %s", job.ID, got)
		}
	}
}

func TestEventsPublishedOnTransitions(t *testing.T) {
	jobs := newMemJobDAO()
	policy := &stubPolicy{triggered: true, plans: []JobPlan{gasPlan("0xaaa", 0)}}
	e := newTestEngine(policy, jobs, false)

	created, _ := e.CreateIfNeeded(context.Background())
	if err := e.ProcessPending(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Wait()

	var statuses []string
	for len(e.Events()) > 0 {
		ev := <-e.Events()
		if ev.JobID != created[0].ID {
			t.Fatalf("unexpected job id %s", ev.JobID)
		}
		statuses = append(statuses, ev.Status)
	}
	if len(statuses) != 2 || statuses[0] != model.JOB_STATUS_PENDING || statuses[1] != model.JOB_STATUS_COMPLETED {
		t.Fatalf("unexpected event sequence %v", statuses)
	}
}
