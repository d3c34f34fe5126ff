package orchestrator

import (
	"context"
	"fmt"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/model"
	"treasury-worker/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GasExecutor 执行gas补充转账的协作方
type GasExecutor interface {
	TopUp(ctx context.Context, wallet string, amount decimal.Decimal) (txHash string, gasConsumed string, err error)
}

// GasTopUpPolicy 扫描配置钱包的原生币余额，低于阈值时建gas补充单
//
// 补充量 = min(min_balance + buffer, max_balance) - 当前余额。
type GasTopUpPolicy struct {
	cfg      config.GasTopUpConfig
	balances dao.BalanceDAO
	executor GasExecutor
	tl       *zap.Logger

	minBalance decimal.Decimal
	buffer     decimal.Decimal
	maxBalance decimal.Decimal
}

// NewGasTopUpPolicy 配置非法时拒绝构造（fail-closed）
func NewGasTopUpPolicy(cfg config.GasTopUpConfig, balances dao.BalanceDAO, executor GasExecutor, tl *zap.Logger) (*GasTopUpPolicy, error) {
	if cfg.MinBalance <= 0 {
		return nil, fmt.Errorf("%w: gas_topup.min_balance must be positive, got %v", model.ErrValidation, cfg.MinBalance)
	}
	if cfg.Buffer < 0 {
		return nil, fmt.Errorf("%w: gas_topup.buffer must not be negative, got %v", model.ErrValidation, cfg.Buffer)
	}
	if cfg.MaxBalance <= cfg.MinBalance {
		return nil, fmt.Errorf("%w: gas_topup.max_balance must exceed min_balance, got %v <= %v", model.ErrValidation, cfg.MaxBalance, cfg.MinBalance)
	}

	return &GasTopUpPolicy{
		cfg:        cfg,
		balances:   balances,
		executor:   executor,
		tl:         tl,
		minBalance: decimal.NewFromFloat(cfg.MinBalance),
		buffer:     decimal.NewFromFloat(cfg.Buffer),
		maxBalance: decimal.NewFromFloat(cfg.MaxBalance),
	}, nil
}

func (p *GasTopUpPolicy) Domain() string {
	return model.JOB_DOMAIN_GAS_TOPUP
}

func (p *GasTopUpPolicy) CheckTrigger(ctx context.Context) (bool, error) {
	return p.cfg.Enable && len(p.cfg.Wallets) > 0, nil
}

// BuildPlans 每个低于阈值的钱包产出一个计划，幂等键按钱包划分
func (p *GasTopUpPolicy) BuildPlans(ctx context.Context) ([]JobPlan, error) {
	var plans []JobPlan
	for _, wallet := range p.cfg.Wallets {
		normalized := utils.NormalizeAddress(wallet)

		snap, err := p.balances.LatestNative(ctx, normalized)
		if err != nil {
			p.tl.Warn("load native balance failed, skipping wallet",
				zap.String("wallet", normalized), zap.Error(err))
			continue
		}
		if snap == nil {
			// 快照尚未生成，等下个刷新周期
			continue
		}

		topup := p.sizeTopUp(snap.Amount)
		if topup.IsZero() {
			continue
		}

		plans = append(plans, JobPlan{
			IdempotencyKey: fmt.Sprintf("gas_topup:%s", normalized),
			Payload: model.JobPayload{
				GasTopUp: &model.GasTopUpPayload{
					WalletAddress:  normalized,
					CurrentBalance: snap.Amount,
					TopUpAmount:    topup,
				},
			},
		})
	}
	return plans, nil
}

// sizeTopUp 余额达标返回零，否则补到 min(min+buffer, max)
func (p *GasTopUpPolicy) sizeTopUp(current decimal.Decimal) decimal.Decimal {
	if current.GreaterThanOrEqual(p.minBalance) {
		return decimal.Zero
	}
	target := p.minBalance.Add(p.buffer)
	if target.GreaterThan(p.maxBalance) {
		target = p.maxBalance
	}
	topup := target.Sub(current)
	if topup.Sign() <= 0 {
		return decimal.Zero
	}
	return topup
}

func (p *GasTopUpPolicy) Execute(ctx context.Context, job *model.Job, payload *model.JobPayload) (*model.JobResult, error) {
	if payload.GasTopUp == nil {
		return nil, fmt.Errorf("%w: gas_topup payload missing", model.ErrValidation)
	}

	gp := payload.GasTopUp
	txHash, gasConsumed, err := p.executor.TopUp(ctx, gp.WalletAddress, gp.TopUpAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: top up %s: %v", model.ErrExecution, gp.WalletAddress, err)
	}

	p.tl.Info("gas top-up executed",
		zap.String("wallet", gp.WalletAddress),
		zap.String("amount", gp.TopUpAmount.String()),
		zap.String("tx_hash", txHash))

	return &model.JobResult{TxHash: txHash, GasConsumed: gasConsumed}, nil
}
