package event

import (
	"context"
	"time"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/writer"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	RETRY_COUNT = 3
)

type KafkaEventWriter struct {
	mq *kafka.Writer
	tl *zap.Logger

	topic string
}

func NewKafkaEventWriter(mq *kafka.Writer, tl *zap.Logger, topic string) writer.BatchWriter[model.ChainEvent] {
	return &KafkaEventWriter{mq: mq, tl: tl, topic: topic}
}

func (w *KafkaEventWriter) BWrite(ctx context.Context, events []model.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, w.marshalToMsg(ev))
	}

	newCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// 重试机制
	var err error
	for attempt := 0; attempt < RETRY_COUNT; attempt++ {
		err = w.mq.WriteMessages(newCtx, msgs...)
		if err == nil {
			break
		}
	}
	if err != nil {
		w.tl.Warn("❌ MQ write failed, exceeded the maximum number of retries", zap.Error(err))
		return err
	}
	return nil
}

func (w *KafkaEventWriter) Close() error {
	return nil
}

func (w *KafkaEventWriter) marshalToMsg(ev model.ChainEvent) kafka.Message {
	jsonData, _ := sonic.Marshal(ev)
	return kafka.Message{
		Topic: w.topic,
		Key:   []byte(ev.TxHash),
		Value: jsonData,
	}
}
