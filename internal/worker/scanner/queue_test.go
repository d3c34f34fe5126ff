package scanner

import (
	"fmt"
	"testing"

	"treasury-worker/internal/worker/model"
)

func makeEvent(i int) model.ChainEvent {
	return model.ChainEvent{
		TxHash:      fmt.Sprintf("0xtx%04d", i),
		LogIndex:    0,
		BlockNumber: uint64(i),
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewEventQueue(10)
	for i := 0; i < 5; i++ {
		q.Enqueue(makeEvent(i))
	}
	if q.Len() != 5 {
		t.Fatalf("expected len 5, got %d", q.Len())
	}

	batch := q.DequeueBatch(3)
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	if batch[0].TxHash != "0xtx0000" || batch[2].TxHash != "0xtx0002" {
		t.Fatalf("batch not in FIFO order: %s %s", batch[0].TxHash, batch[2].TxHash)
	}
	if q.Len() != 2 {
		t.Fatalf("expected len 2 after dequeue, got %d", q.Len())
	}
}

func TestQueueEvictsOldestWhenFull(t *testing.T) {
	q := NewEventQueue(3)
	for i := 0; i < 10; i++ {
		q.Enqueue(makeEvent(i))
	}

	if q.Len() != 3 {
		t.Fatalf("expected len capped at 3, got %d", q.Len())
	}
	if q.Evicted() != 7 {
		t.Fatalf("expected 7 evicted, got %d", q.Evicted())
	}

	// 保留的永远是最新入队的 N 条
	batch := q.DequeueBatch(3)
	for i, ev := range batch {
		want := fmt.Sprintf("0xtx%04d", 7+i)
		if ev.TxHash != want {
			t.Fatalf("slot %d: expected %s, got %s", i, want, ev.TxHash)
		}
	}
}

func TestQueueDequeueMoreThanAvailable(t *testing.T) {
	q := NewEventQueue(10)
	q.Enqueue(makeEvent(1))

	batch := q.DequeueBatch(100)
	if len(batch) != 1 {
		t.Fatalf("expected 1, got %d", len(batch))
	}
	if got := q.DequeueBatch(10); len(got) != 0 {
		t.Fatalf("expected empty dequeue, got %d", len(got))
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	q := NewEventQueue(0)
	for i := 0; i < DEFAULT_QUEUE_CAPACITY+5; i++ {
		q.Enqueue(makeEvent(i))
	}
	if q.Len() != DEFAULT_QUEUE_CAPACITY {
		t.Fatalf("expected default capacity %d, got %d", DEFAULT_QUEUE_CAPACITY, q.Len())
	}
}
