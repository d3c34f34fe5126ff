package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"
	"treasury-worker/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ERC20 Transfer(address,address,uint256) 事件签名
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var (
	symbolSelector   = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
	decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// ChainClient 链数据协作方的窄接口，*ethclient.Client 满足该接口
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// MonitoringStats 扫描器观测快照
type MonitoringStats struct {
	IsMonitoring       bool   `json:"is_monitoring"`
	WatchedCount       int    `json:"watched_count"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	QueueDepth         int    `json:"queue_depth"`
}

// Scanner 轮询链头并抽取监控地址相关事件
//
// 子区间严格顺序处理，高水位单调递增；子区间失败跳过不重放（best-effort）。
type Scanner struct {
	cfg    config.ChainConfig
	client ChainClient
	tl     *zap.Logger

	watched *WatchedSet
	queue   *EventQueue
	signer  types.Signer

	tokenMeta *cache.Cache // token address -> model.TokenMeta

	lastProcessed atomic.Uint64
	monitoring    atomic.Bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	pollInterval    time.Duration
	errorBackoff    time.Duration
	interBatchDelay time.Duration
	batchSize       uint64
}

func NewScanner(cfg config.ChainConfig, client ChainClient, tl *zap.Logger) *Scanner {
	pollInterval := time.Duration(cfg.PollIntervalSec) * time.Second
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	errorBackoff := time.Duration(cfg.ErrorBackoffSec) * time.Second
	if errorBackoff <= 0 {
		errorBackoff = 60 * time.Second
	}
	interBatchDelay := time.Duration(cfg.InterBatchDelayMs) * time.Millisecond
	if interBatchDelay <= 0 {
		interBatchDelay = 200 * time.Millisecond
	}
	batchSize := cfg.BlockBatchSize
	if batchSize == 0 {
		batchSize = 10
	}

	s := &Scanner{
		cfg:             cfg,
		client:          client,
		tl:              tl,
		watched:         NewWatchedSet(),
		queue:           NewEventQueue(cfg.QueueCapacity),
		signer:          types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		tokenMeta:       cache.New(cache.NoExpiration, 0),
		stopCh:          make(chan struct{}),
		pollInterval:    pollInterval,
		errorBackoff:    errorBackoff,
		interBatchDelay: interBatchDelay,
		batchSize:       batchSize,
	}

	if len(cfg.WatchedAddresses) > 0 {
		added, _ := s.watched.Watch(cfg.WatchedAddresses)
		tl.Info("preloaded watched addresses", zap.Int("count", len(added)))
	}
	return s
}

// Watch 加入监控地址，返回实际加入与已存在跳过的地址
func (s *Scanner) Watch(addresses []string) (added, skipped []string) {
	added, skipped = s.watched.Watch(addresses)
	s.tl.Info("watch addresses",
		zap.Int("added", len(added)),
		zap.Int("skipped", len(skipped)))
	return added, skipped
}

// Unwatch 移除监控地址
func (s *Scanner) Unwatch(address string) {
	s.watched.Unwatch(address)
}

// Queue 事件队列，供落库任务消费
func (s *Scanner) Queue() *EventQueue {
	return s.queue
}

// MonitoringStats 观测快照
func (s *Scanner) MonitoringStats() MonitoringStats {
	return MonitoringStats{
		IsMonitoring:       s.monitoring.Load(),
		WatchedCount:       s.watched.Count(),
		LastProcessedBlock: s.lastProcessed.Load(),
		QueueDepth:         s.queue.Len(),
	}
}

// Start 启动轮询循环；Stop后可再次Start
func (s *Scanner) Start(ctx context.Context) {
	if s.monitoring.Swap(true) {
		return
	}
	// 停止信号每轮重建，上一轮的stopCh已关闭
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
	s.tl.Info("chain scanner started",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Uint64("block_batch_size", s.batchSize))
}

// Stop 停止轮询并等待当前周期结束
func (s *Scanner) Stop() {
	if !s.monitoring.Swap(false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.tl.Info("chain scanner stopped")
}

func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := s.pollInterval
		if err := s.runCycle(ctx); err != nil {
			// 整周期失败只退避，不退出循环
			monitor.ScannerCycleErrors.Inc()
			s.tl.Warn("scan cycle failed, backing off", zap.Error(err), zap.Duration("backoff", s.errorBackoff))
			wait = s.errorBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// runCycle 单个扫描周期：读链头，按子区间顺序追平
func (s *Scanner) runCycle(ctx context.Context) error {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch chain head: %v", model.ErrProvider, err)
	}

	last := s.lastProcessed.Load()
	if last == 0 {
		// 首个周期从当前链头开始，不回溯历史
		s.lastProcessed.Store(head)
		monitor.ScannerLastProcessedBlock.Set(float64(head))
		return nil
	}

	for start := last + 1; start <= head; {
		end := start + s.batchSize - 1
		if end > head {
			end = head
		}

		if err := s.scanRange(ctx, start, end); err != nil {
			// 子区间失败记录后跳过，高水位照常推进
			monitor.ScannerSubRangeErrors.Inc()
			s.tl.Warn("sub-range scan failed, skipping",
				zap.Uint64("from", start),
				zap.Uint64("to", end),
				zap.Error(err))
		}
		s.lastProcessed.Store(end)
		monitor.ScannerLastProcessedBlock.Set(float64(end))

		start = end + 1
		if start <= head {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopCh:
				return nil
			case <-time.After(s.interBatchDelay):
			}
		}
	}
	return nil
}

// scanRange 处理单个子区间：先拉区块，再分别抽取代币转账与原生转账
func (s *Scanner) scanRange(ctx context.Context, from, to uint64) error {
	blocks := make(map[uint64]*types.Block, to-from+1)
	for bn := from; bn <= to; bn++ {
		block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(bn))
		if err != nil {
			return fmt.Errorf("%w: fetch block %d: %v", model.ErrProvider, bn, err)
		}
		blocks[bn] = block
	}

	if err := s.collectTokenTransfers(ctx, from, to, blocks); err != nil {
		return err
	}
	return s.collectNativeTransfers(ctx, blocks)
}

// collectTokenTransfers 抽取子区间内监控地址相关的ERC20转账
func (s *Scanner) collectTokenTransfers(ctx context.Context, from, to uint64, blocks map[uint64]*types.Block) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{transferTopic}},
	}
	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: filter logs [%d,%d]: %v", model.ErrProvider, from, to, err)
	}

	for _, lg := range logs {
		if len(lg.Topics) != 3 {
			continue
		}
		fromAddr := utils.NormalizeAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())
		toAddr := utils.NormalizeAddress(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
		if !s.watched.Contains(fromAddr) && !s.watched.Contains(toAddr) {
			continue
		}

		meta := s.tokenMetadata(ctx, lg.Address)
		amount := new(big.Int).SetBytes(lg.Data)

		ev := model.ChainEvent{
			TxHash:        lg.TxHash.Hex(),
			LogIndex:      int(lg.Index),
			FromAddress:   fromAddr,
			ToAddress:     toAddr,
			Value:         utils.AdjustDecimals(amount, meta.Decimals),
			BlockNumber:   lg.BlockNumber,
			Status:        model.EVENT_STATUS_SUCCESS,
			OperationType: s.classifyTx(ctx, lg.TxHash),
			CreatedAt:     time.Now().UnixMilli(),
		}
		ev.SetTokenMeta(meta)

		if block, ok := blocks[lg.BlockNumber]; ok {
			ev.BlockTimestamp = int64(block.Time())
		}
		if receipt, rErr := s.client.TransactionReceipt(ctx, lg.TxHash); rErr == nil {
			ev.GasUsed = receipt.GasUsed
			if receipt.EffectiveGasPrice != nil {
				ev.GasPrice = decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0)
			}
			if receipt.Status == types.ReceiptStatusFailed {
				ev.Status = model.EVENT_STATUS_FAILED
			}
		}

		s.queue.Enqueue(ev)
	}
	return nil
}

// collectNativeTransfers 抽取子区间内监控地址相关的原生币转账
func (s *Scanner) collectNativeTransfers(ctx context.Context, blocks map[uint64]*types.Block) error {
	for _, block := range blocks {
		for _, tx := range block.Transactions() {
			if tx.To() == nil || tx.Value().Sign() == 0 {
				continue
			}

			sender, err := types.Sender(s.signer, tx)
			if err != nil {
				continue
			}
			fromAddr := utils.NormalizeAddress(sender.Hex())
			toAddr := utils.NormalizeAddress(tx.To().Hex())
			if !s.watched.Contains(fromAddr) && !s.watched.Contains(toAddr) {
				continue
			}

			ev := model.ChainEvent{
				TxHash:         tx.Hash().Hex(),
				LogIndex:       0,
				FromAddress:    fromAddr,
				ToAddress:      toAddr,
				Value:          utils.AdjustDecimals(tx.Value(), 18),
				BlockNumber:    block.NumberU64(),
				BlockTimestamp: int64(block.Time()),
				Status:         model.EVENT_STATUS_SUCCESS,
				OperationType:  ClassifyInput(tx.Data()),
				CreatedAt:      time.Now().UnixMilli(),
			}

			if receipt, rErr := s.client.TransactionReceipt(ctx, tx.Hash()); rErr == nil {
				ev.GasUsed = receipt.GasUsed
				if receipt.EffectiveGasPrice != nil {
					ev.GasPrice = decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0)
				}
				if receipt.Status == types.ReceiptStatusFailed {
					ev.Status = model.EVENT_STATUS_FAILED
				}
			}

			s.queue.Enqueue(ev)
		}
	}
	return nil
}

// classifyTx 取交易input的方法选择器做分类
func (s *Scanner) classifyTx(ctx context.Context, txHash common.Hash) string {
	tx, _, err := s.client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return model.OP_TYPE_UNKNOWN
	}
	op := ClassifyInput(tx.Data())
	if op == model.OP_TYPE_TRANSFER {
		// 代币事件所在交易input为空说明是内部调用路径，归为unknown
		return model.OP_TYPE_UNKNOWN
	}
	return op
}

// tokenMetadata 解析代币symbol/decimals，带进程内缓存
func (s *Scanner) tokenMetadata(ctx context.Context, token common.Address) model.TokenMeta {
	key := utils.NormalizeAddress(token.Hex())
	if cached, found := s.tokenMeta.Get(key); found {
		return cached.(model.TokenMeta)
	}

	meta := model.TokenMeta{
		Address:  key,
		Symbol:   shortAddress(key),
		Decimals: 18,
	}

	if out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil); err == nil && len(out) >= 32 {
		meta.Decimals = out[31]
	}
	if out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: symbolSelector}, nil); err == nil {
		if sym := decodeABIString(out); sym != "" {
			meta.Symbol = sym
		}
	}

	s.tokenMeta.Set(key, meta, cache.NoExpiration)
	return meta
}

// decodeABIString 解ABI string返回值，兼容bytes32风格的symbol
func decodeABIString(out []byte) string {
	if len(out) >= 64 {
		offset := new(big.Int).SetBytes(out[:32]).Uint64()
		if offset+32 <= uint64(len(out)) {
			length := new(big.Int).SetBytes(out[offset : offset+32]).Uint64()
			start := offset + 32
			if start+length <= uint64(len(out)) {
				return string(out[start : start+length])
			}
		}
	}
	if len(out) == 32 {
		end := 0
		for end < 32 && out[end] != 0 {
			end++
		}
		return string(out[:end])
	}
	return ""
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10]
}
