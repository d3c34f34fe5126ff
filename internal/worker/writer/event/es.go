package event

import (
	"context"
	"fmt"
	"time"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/writer"
	"treasury-worker/pkg/elasticsearch"

	"go.uber.org/zap"
)

type ESEventWriter struct {
	esClient *elasticsearch.Client
	logger   *zap.Logger
	index    string
}

func NewESEventWriter(esClient *elasticsearch.Client, logger *zap.Logger, index string) writer.BatchWriter[model.ChainEvent] {
	return &ESEventWriter{
		esClient: esClient,
		logger:   logger,
		index:    index,
	}
}

func (w *ESEventWriter) BWrite(ctx context.Context, events []model.ChainEvent) error {
	if len(events) == 0 {
		return nil
	}

	operations := make([]elasticsearch.BulkOperation, 0, len(events))
	for _, ev := range events {
		operations = append(operations, elasticsearch.BulkOperation{
			Action:   "index",
			Index:    w.index,
			ID:       w.generateDocID(&ev),
			Document: w.convertToESDoc(&ev),
		})
	}

	if err := w.esClient.BulkWrite(ctx, operations); err != nil {
		w.logger.Warn("ES bulk write failed", zap.Error(err), zap.Int("count", len(events)))
		return err
	}
	return nil
}

func (w *ESEventWriter) Close() error {
	return nil
}

// generateDocID 同一事件重复写入时覆盖同一文档
func (w *ESEventWriter) generateDocID(ev *model.ChainEvent) string {
	return fmt.Sprintf("%s_%d", ev.TxHash, ev.LogIndex)
}

func (w *ESEventWriter) convertToESDoc(ev *model.ChainEvent) map[string]interface{} {
	doc := map[string]interface{}{
		"tx_hash":         ev.TxHash,
		"log_index":       ev.LogIndex,
		"from_address":    ev.FromAddress,
		"to_address":      ev.ToAddress,
		"value":           ev.Value.String(),
		"gas_used":        ev.GasUsed,
		"gas_price":       ev.GasPrice.String(),
		"block_number":    ev.BlockNumber,
		"block_timestamp": ev.BlockTimestamp,
		"status":          ev.Status,
		"operation_type":  ev.OperationType,
		"indexed_at":      time.Now().UnixMilli(),
	}

	if meta := ev.GetTokenMeta(); meta != nil {
		doc["token_address"] = meta.Address
		doc["token_symbol"] = meta.Symbol
		doc["token_decimals"] = meta.Decimals
	}
	return doc
}
