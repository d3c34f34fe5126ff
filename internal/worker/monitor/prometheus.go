package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	// ScannerEventsEnqueued 扫描相关
	ScannerEventsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_events_enqueued_total",
			Help: "Total number of chain events enqueued by the scanner.",
		},
		[]string{"operation_type"},
	)
	ScannerEventsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_events_evicted_total",
			Help: "Total number of chain events evicted from the full queue.",
		},
	)
	ScannerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanner_queue_depth",
			Help: "Current number of chain events waiting to be flushed.",
		},
	)
	ScannerLastProcessedBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanner_last_processed_block",
			Help: "High-water mark of the block scanner.",
		},
	)
	ScannerSubRangeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_subrange_errors_total",
			Help: "Total number of sub-range scans that failed and were skipped.",
		},
	)
	ScannerCycleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_cycle_errors_total",
			Help: "Total number of full scan cycles that failed.",
		},
	)
	ScannerFlushedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_flushed_events_total",
			Help: "Total number of chain events flushed to persistence.",
		},
	)
	ScannerDroppedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_dropped_batches_total",
			Help: "Total number of event batches dropped after a flush failure.",
		},
	)

	// JobsCreated 作业编排相关
	JobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_created_total",
			Help: "Total number of jobs created per domain.",
		},
		[]string{"domain"},
	)
	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_completed_total",
			Help: "Total number of jobs completed per domain.",
		},
		[]string{"domain"},
	)
	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_failed_total",
			Help: "Total number of jobs failed per domain.",
		},
		[]string{"domain"},
	)
	JobsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_retried_total",
			Help: "Total number of job requeues per domain.",
		},
		[]string{"domain"},
	)
	JobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_jobs_in_flight",
			Help: "Current number of jobs being processed per domain.",
		},
		[]string{"domain"},
	)
	JobProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_job_process_duration_seconds",
			Help:    "Time taken to process a job per domain.",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
		},
		[]string{"domain"},
	)

	// PriceTierResolved 价格解析相关
	PriceTierResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_tier_resolved_total",
			Help: "Total number of price resolutions per origin tier.",
		},
		[]string{"tier"},
	)

	// ServiceHealth 降级上报
	ServiceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_health",
			Help: "Health state of external collaborators (1 healthy, 0 degraded).",
		},
		[]string{"service"},
	)
	FallbackUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_fallback_usage_total",
			Help: "Total number of fallback activations per service and reason.",
		},
		[]string{"service", "reason"},
	)

	// AsyncWriterMessagesQueued AsyncWriter 指标
	AsyncWriterMessagesQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_messages_queued_total",
			Help: "Total number of messages queued to async writer.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterMessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_messages_dropped_total",
			Help: "Total number of messages dropped due to full queue.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_writer_batch_size",
			Help:    "Number of items in each batch submitted to the writer.",
			Buckets: []float64{10, 50, 100, 200, 500, 1000},
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_flush_count_total",
			Help: "Total number of batch flushes triggered.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_writer_flush_duration_seconds",
			Help:    "Time taken to flush a batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"writer_id"},
	)
	AsyncWriterItemsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_items_written_total",
			Help: "Total number of items successfully written by the async writer.",
		},
		[]string{"writer_id"},
	)
)

func init() {
	prometheus.MustRegister(
		// 扫描指标
		ScannerEventsEnqueued,
		ScannerEventsEvicted,
		ScannerQueueDepth,
		ScannerLastProcessedBlock,
		ScannerSubRangeErrors,
		ScannerCycleErrors,
		ScannerFlushedEvents,
		ScannerDroppedBatches,

		// 作业指标
		JobsCreated,
		JobsCompleted,
		JobsFailed,
		JobsRetried,
		JobsInFlight,
		JobProcessDuration,

		// 价格与降级指标
		PriceTierResolved,
		ServiceHealth,
		FallbackUsage,

		// async 写入指标
		AsyncWriterMessagesQueued,
		AsyncWriterMessagesDropped,
		AsyncWriterBatchSize,
		AsyncWriterFlushCount,
		AsyncWriterFlushDuration,
		AsyncWriterItemsWritten,
	)
}
