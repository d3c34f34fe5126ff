package job

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/scanner"

	"go.uber.org/zap"
)

type memEventDAO struct {
	inserted  []model.ChainEvent
	insertErr error
}

func (m *memEventDAO) BatchInsert(ctx context.Context, events []model.ChainEvent) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, events...)
	return nil
}

func (m *memEventDAO) RecentByAddress(ctx context.Context, address string, limit int) ([]*model.ChainEvent, error) {
	return nil, nil
}

func fillQueue(q *scanner.EventQueue, n int) {
	for i := 0; i < n; i++ {
		q.Enqueue(model.ChainEvent{TxHash: fmt.Sprintf("0xtx%d", i), LogIndex: i})
	}
}

func TestEventFlushDrainsQueue(t *testing.T) {
	queue := scanner.NewEventQueue(100)
	fillQueue(queue, 7)
	eventDAO := &memEventDAO{}

	flush := NewEventFlush(config.ChainConfig{FlushBatchSize: 50}, queue, eventDAO, nil, zap.NewNop())
	if err := flush.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(eventDAO.inserted) != 7 {
		t.Fatalf("expected 7 inserted, got %d", len(eventDAO.inserted))
	}
	if queue.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", queue.Len())
	}
}

func TestEventFlushRespectsBatchSize(t *testing.T) {
	queue := scanner.NewEventQueue(100)
	fillQueue(queue, 10)
	eventDAO := &memEventDAO{}

	flush := NewEventFlush(config.ChainConfig{FlushBatchSize: 4}, queue, eventDAO, nil, zap.NewNop())
	if err := flush.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(eventDAO.inserted) != 4 {
		t.Fatalf("expected 4 inserted, got %d", len(eventDAO.inserted))
	}
	if queue.Len() != 6 {
		t.Fatalf("expected 6 remaining, got %d", queue.Len())
	}
}

func TestEventFlushDropsBatchOnInsertFailure(t *testing.T) {
	queue := scanner.NewEventQueue(100)
	fillQueue(queue, 3)
	eventDAO := &memEventDAO{insertErr: errors.New("db down")}

	flush := NewEventFlush(config.ChainConfig{}, queue, eventDAO, nil, zap.NewNop())
	// 落库失败不是任务错误，整批丢弃
	if err := flush.Run(context.Background()); err != nil {
		t.Fatalf("expected drop without error, got %v", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("dropped batch must not be requeued, queue has %d", queue.Len())
	}
}

func TestEventFlushEmptyQueueNoop(t *testing.T) {
	queue := scanner.NewEventQueue(100)
	eventDAO := &memEventDAO{}

	flush := NewEventFlush(config.ChainConfig{}, queue, eventDAO, nil, zap.NewNop())
	if err := flush.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eventDAO.inserted) != 0 {
		t.Fatalf("expected no inserts, got %d", len(eventDAO.inserted))
	}
}
