package worker

import (
	"context"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/execution"
	"treasury-worker/internal/worker/job"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"
	"treasury-worker/internal/worker/orchestrator"
	"treasury-worker/internal/worker/pricing"
	"treasury-worker/internal/worker/repository"
	"treasury-worker/internal/worker/scanner"
	"treasury-worker/internal/worker/writer"
	"treasury-worker/internal/worker/writer/event"
	"treasury-worker/pkg/elasticsearch"
	"treasury-worker/pkg/pricefeed"

	"go.uber.org/zap"
)

type Core struct {
	cfg       config.Config
	tl        *zap.Logger
	repo      repository.Repository
	scheduler *job.Scheduler
	scanner   *scanner.Scanner
	resolver  *pricing.Resolver
	metrics   *monitor.MetricsServer

	gasEngine       *orchestrator.Engine
	rebalanceEngine *orchestrator.Engine
	batchEngine     *orchestrator.Engine
	batchPolicy     *orchestrator.BatchOpPolicy

	auditors []*writer.AsyncBatchWriter[model.ChainEvent]
}

func New(cfg config.Config, logger *zap.Logger) *Core {
	// 初始化作业调度器
	scheduler := job.NewScheduler(logger)

	// 初始化repo
	repo := repository.New(cfg, logger)
	daoMgr := dao.NewDAOManager(&cfg, repo.GetDB(), repo.GetMainRDB())

	// 价格解析：分层降级 + 遥测上报
	telemetry := monitor.NewTelemetry(logger)
	priceClient := pricefeed.NewClient(cfg.Pricing, logger)
	resolver := pricing.NewResolver(cfg.Pricing, priceClient, telemetry, logger)

	// 链扫描器
	chainScanner := scanner.NewScanner(cfg.Chain, repo.GetChainClient(), logger)

	// 执行器：纸面实现，真实上链执行器按接口替换
	paperExec := execution.NewPaperExecutor(logger)

	core := &Core{
		cfg:       cfg,
		repo:      repo,
		tl:        logger,
		scheduler: scheduler,
		scanner:   chainScanner,
		resolver:  resolver,
		metrics:   monitor.NewMetricsServer(cfg.Monitor),
	}

	// 审计流：事件批量投递 kafka / ES，满了丢弃不阻塞
	core.auditors = buildAuditors(cfg, repo, logger)

	// 事件刷写 - 每 5 秒
	flushInterval := time.Duration(cfg.Chain.FlushIntervalSec) * time.Second
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	eventFlush := job.NewEventFlush(cfg.Chain, chainScanner.Queue(), daoMgr.EventDAO, core.auditors, logger)
	scheduler.RegisterJob("event_flush", flushInterval, eventFlush.Run)

	// gas 补充域 - 每分钟
	if cfg.GasTopUp.Enable {
		gasPolicy, err := orchestrator.NewGasTopUpPolicy(cfg.GasTopUp, daoMgr.BalanceDAO, paperExec, logger)
		if err != nil {
			panic(err)
		}
		core.gasEngine = orchestrator.NewEngine(gasPolicy, daoMgr.JobDAO, cfg.Jobs, logger)
		gasTick := job.NewEngineTick(core.gasEngine, true, logger)
		scheduler.RegisterJob("gas_topup_tick", 1*time.Minute, gasTick.Run)
	}

	// 调仓域 - 每 5 分钟
	if cfg.Rebalance.Enable {
		rebalancePolicy, err := orchestrator.NewRebalancePolicy(cfg.Rebalance, daoMgr.WalletGroupDAO, daoMgr.BalanceDAO, resolver, paperExec, logger)
		if err != nil {
			panic(err)
		}
		core.rebalanceEngine = orchestrator.NewEngine(rebalancePolicy, daoMgr.JobDAO, cfg.Jobs, logger)
		rebalanceTick := job.NewEngineTick(core.rebalanceEngine, true, logger)
		scheduler.RegisterJob("rebalance_tick", 5*time.Minute, rebalanceTick.Run)
	}

	// 批处理域 - 每 30 秒，作业由调用方 Submit 进入
	core.batchPolicy = orchestrator.NewBatchOpPolicy(cfg.Batch, paperExec, logger)
	core.batchEngine = orchestrator.NewEngine(core.batchPolicy, daoMgr.JobDAO, cfg.Jobs, logger)
	batchTick := job.NewEngineTick(core.batchEngine, false, logger)
	scheduler.RegisterJob("batch_tick", 30*time.Second, batchTick.Run)

	// 余额快照刷新 - 每 2 分钟
	balanceRefresh := job.NewBalanceRefresh(cfg, repo.GetChainClient(), daoMgr.BalanceDAO, daoMgr.WalletGroupDAO, resolver, logger)
	scheduler.RegisterJob("balance_refresh", 2*time.Minute, balanceRefresh.Run)

	// 终态作业清理 - 每小时
	jobCleanup := job.NewJobCleanup(cfg.Jobs, daoMgr.JobDAO, logger)
	scheduler.RegisterJob("job_cleanup", 1*time.Hour, jobCleanup.Run)

	return core
}

// buildAuditors 按配置装配事件审计写入器
func buildAuditors(cfg config.Config, repo repository.Repository, logger *zap.Logger) []*writer.AsyncBatchWriter[model.ChainEvent] {
	var auditors []*writer.AsyncBatchWriter[model.ChainEvent]

	if mq := repo.GetMQ(); mq != nil {
		kafkaWriter := event.NewKafkaEventWriter(mq, logger, cfg.Kafka.TopicEvents)
		auditors = append(auditors, writer.NewAsyncBatchWriter(logger, kafkaWriter, 200, 2*time.Second, "event_kafka", 1))
	}

	if len(cfg.Elasticsearch.Addresses) > 0 {
		esClient, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		}, logger)
		if err != nil {
			logger.Warn("elasticsearch init failed, audit writer disabled", zap.Error(err))
		} else {
			esWriter := event.NewESEventWriter(esClient, logger, cfg.Elasticsearch.EventsIndexName)
			auditors = append(auditors, writer.NewAsyncBatchWriter(logger, esWriter, 200, 2*time.Second, "event_es", 1))
		}
	}
	return auditors
}

// Scanner 链扫描器，供运维侧动态调整监控地址
func (c *Core) Scanner() *scanner.Scanner {
	return c.scanner
}

// Resolver 价格解析器
func (c *Core) Resolver() *pricing.Resolver {
	return c.resolver
}

// SubmitBatch 提交批处理作业
func (c *Core) SubmitBatch(ctx context.Context, ops []model.BatchOperation, idempotencyKey string) (*model.Job, error) {
	if err := c.batchPolicy.ValidateOperations(ops); err != nil {
		return nil, err
	}
	payload := model.JobPayload{BatchOps: &model.BatchOpsPayload{Operations: ops}}
	return c.batchEngine.Submit(ctx, payload, idempotencyKey, c.cfg.Batch.MaxRetries)
}

// CancelJob 取消pending作业，按域路由到对应引擎
func (c *Core) CancelJob(ctx context.Context, domain, jobID string) error {
	engine := c.engineFor(domain)
	if engine == nil {
		return model.ErrValidation
	}
	return engine.Cancel(ctx, jobID)
}

// JobHistory 作业历史查询
func (c *Core) JobHistory(ctx context.Context, filter model.JobFilter, limit int) ([]*model.Job, error) {
	engine := c.engineFor(filter.Domain)
	if engine == nil {
		return nil, model.ErrValidation
	}
	return engine.JobHistory(ctx, filter, limit)
}

func (c *Core) engineFor(domain string) *orchestrator.Engine {
	switch domain {
	case model.JOB_DOMAIN_GAS_TOPUP:
		return c.gasEngine
	case model.JOB_DOMAIN_REBALANCE:
		return c.rebalanceEngine
	case model.JOB_DOMAIN_BATCH_OP:
		return c.batchEngine
	}
	return nil
}

func (c *Core) Start(ctx context.Context) {
	c.tl.Info("Starting worker core...")
	// 启动监控服务
	if c.metrics != nil {
		c.metrics.Run()
	}

	// 启动审计写入器
	for _, auditor := range c.auditors {
		auditor.Start(ctx)
	}

	// 启动链扫描
	c.scanner.Start(ctx)

	// 作业状态变更旁路到日志流
	for _, engine := range []*orchestrator.Engine{c.gasEngine, c.rebalanceEngine, c.batchEngine} {
		if engine == nil {
			continue
		}
		go c.drainEvents(ctx, engine)
	}

	// 启动调度器
	c.scheduler.Start(ctx)
	c.tl.Info("Worker started successfully")

	// 等待外部关闭信号
	<-ctx.Done()
	c.tl.Info("Shutting down worker due to context cancellation...")
}

func (c *Core) drainEvents(ctx context.Context, engine *orchestrator.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-engine.Events():
			c.tl.Info("job state changed",
				zap.String("domain", ev.Domain),
				zap.String("job_id", ev.JobID),
				zap.String("status", ev.Status),
				zap.String("error", ev.Error))
		}
	}
}

// Stop 优雅关闭 Core 的所有资源
func (c *Core) Stop(ctx context.Context) {
	c.tl.Info("Stopping worker core...")

	// 停止链扫描
	c.scanner.Stop()

	// 停止调度器
	if c.scheduler != nil {
		c.scheduler.Stop(ctx)
	}

	// 等待已派发的作业执行结束
	for _, engine := range []*orchestrator.Engine{c.gasEngine, c.rebalanceEngine, c.batchEngine} {
		if engine != nil {
			engine.Wait()
		}
	}

	// 排空并关闭审计写入器
	for _, auditor := range c.auditors {
		auditor.Close()
	}

	// 停止 Prometheus 监控服务
	if c.metrics != nil {
		_ = c.metrics.Stop(ctx)
	}

	c.repo.Close()

	c.tl.Info("Worker core stopped.")
}
