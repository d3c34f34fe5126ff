package job

import (
	"context"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"
	"treasury-worker/internal/worker/scanner"
	"treasury-worker/internal/worker/writer"

	"go.uber.org/zap"
)

const DEFAULT_FLUSH_BATCH_SIZE = 50

// EventFlush 定时把扫描队列刷入持久层并投递审计流
//
// 落库失败只记日志，整批丢弃不重放。
type EventFlush struct {
	cfg      config.ChainConfig
	queue    *scanner.EventQueue
	eventDAO dao.EventDAO
	auditors []*writer.AsyncBatchWriter[model.ChainEvent]
	tl       *zap.Logger
}

// NewEventFlush 创建事件刷写任务，auditors 为可选的 kafka/ES 审计写入器
func NewEventFlush(cfg config.ChainConfig, queue *scanner.EventQueue, eventDAO dao.EventDAO, auditors []*writer.AsyncBatchWriter[model.ChainEvent], tl *zap.Logger) *EventFlush {
	return &EventFlush{
		cfg:      cfg,
		queue:    queue,
		eventDAO: eventDAO,
		auditors: auditors,
		tl:       tl,
	}
}

// Run 执行单次刷写
func (j *EventFlush) Run(ctx context.Context) error {
	batchSize := j.cfg.FlushBatchSize
	if batchSize <= 0 {
		batchSize = DEFAULT_FLUSH_BATCH_SIZE
	}

	events := j.queue.DequeueBatch(batchSize)
	if len(events) == 0 {
		return nil
	}

	if err := j.eventDAO.BatchInsert(ctx, events); err != nil {
		monitor.ScannerDroppedBatches.Inc()
		j.tl.Warn("event flush failed, batch dropped",
			zap.Int("count", len(events)),
			zap.Error(err))
		return nil
	}

	monitor.ScannerFlushedEvents.Add(float64(len(events)))
	j.tl.Debug("events flushed", zap.Int("count", len(events)))

	for _, ev := range events {
		for _, auditor := range j.auditors {
			auditor.Submit(ev)
		}
	}
	return nil
}
