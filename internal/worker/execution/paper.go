package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"treasury-worker/internal/worker/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExecutor 纸面执行器：不上链，只生成确定性伪交易哈希
//
// 三个域共用一个实现，真实执行器接入后按接口逐域替换。
type PaperExecutor struct {
	tl    *zap.Logger
	nonce atomic.Uint64
}

func NewPaperExecutor(tl *zap.Logger) *PaperExecutor {
	return &PaperExecutor{tl: tl}
}

// TopUp gas补充的纸面执行
func (p *PaperExecutor) TopUp(ctx context.Context, wallet string, amount decimal.Decimal) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	txHash := p.pseudoTxHash("topup", wallet, amount.String())
	p.tl.Debug("paper top-up",
		zap.String("wallet", wallet),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))
	return txHash, "21000", nil
}

// ExecuteTrade 调仓动作的纸面执行
func (p *PaperExecutor) ExecuteTrade(ctx context.Context, symbol, side string, amountUSD decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txHash := p.pseudoTxHash("trade", symbol, side, amountUSD.String())
	p.tl.Debug("paper trade",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("amount_usd", amountUSD.String()),
		zap.String("tx_hash", txHash))
	return txHash, nil
}

// ExecuteOperation 批处理动作的纸面执行
func (p *PaperExecutor) ExecuteOperation(ctx context.Context, op model.BatchOperation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txHash := p.pseudoTxHash("batch", op.Type, op.Wallet, op.Amount.String())
	p.tl.Debug("paper batch operation",
		zap.String("type", op.Type),
		zap.String("wallet", op.Wallet),
		zap.String("tx_hash", txHash))
	return txHash, nil
}

func (p *PaperExecutor) pseudoTxHash(parts ...string) string {
	seed := fmt.Sprintf("%v|%d|%d", parts, p.nonce.Add(1), time.Now().UnixNano())
	sum := sha256.Sum256([]byte(seed))
	return "0x" + hex.EncodeToString(sum[:])
}
