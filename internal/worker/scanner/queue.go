package scanner

import (
	"sync"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"
)

const DEFAULT_QUEUE_CAPACITY = 1000

// EventQueue 有界FIFO事件队列，满时先逐出最旧的一条再入队
type EventQueue struct {
	mu       sync.Mutex
	items    []model.ChainEvent
	capacity int
	evicted  uint64
}

func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DEFAULT_QUEUE_CAPACITY
	}
	return &EventQueue{
		items:    make([]model.ChainEvent, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue 入队，入队后事件不再修改
func (q *EventQueue) Enqueue(ev model.ChainEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		// FIFO逐出
		q.items = q.items[1:]
		q.evicted++
		monitor.ScannerEventsEvicted.Inc()
	}
	q.items = append(q.items, ev)

	monitor.ScannerEventsEnqueued.WithLabelValues(ev.OperationType).Inc()
	monitor.ScannerQueueDepth.Set(float64(len(q.items)))
}

// DequeueBatch 出队最多max条
func (q *EventQueue) DequeueBatch(max int) []model.ChainEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}

	batch := make([]model.ChainEvent, max)
	copy(batch, q.items[:max])
	q.items = q.items[max:]

	monitor.ScannerQueueDepth.Set(float64(len(q.items)))
	return batch
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Evicted 因容量满被逐出的事件总数
func (q *EventQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}
