package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TARGET_SUM_EPSILON 目标配比总和的容差
const TARGET_SUM_EPSILON = 1e-6

// PriceSource 估值用价格源，*pricing.Resolver 满足该接口
type PriceSource interface {
	GetMultiplePrices(ctx context.Context, symbols []string) map[string]model.PriceQuote
}

// TradeExecutor 执行调仓买卖动作的协作方
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, symbol, side string, amountUSD decimal.Decimal) (txHash string, err error)
}

// RebalancePolicy 对配置的钱包组做目标配比偏移检测并建调仓单
type RebalancePolicy struct {
	cfg      config.RebalanceConfig
	groups   dao.WalletGroupDAO
	balances dao.BalanceDAO
	prices   PriceSource
	executor TradeExecutor
	tl       *zap.Logger

	tolerance    decimal.Decimal
	minPortfolio decimal.Decimal
	maxTrade     decimal.Decimal
	minTrade     decimal.Decimal
}

// NewRebalancePolicy 目标配比总和必须为100，否则拒绝构造（fail-closed）
func NewRebalancePolicy(cfg config.RebalanceConfig, groups dao.WalletGroupDAO, balances dao.BalanceDAO, prices PriceSource, executor TradeExecutor, tl *zap.Logger) (*RebalancePolicy, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("%w: rebalance.targets must not be empty", model.ErrValidation)
	}
	sum := 0.0
	for sym, pct := range cfg.Targets {
		if pct <= 0 {
			return nil, fmt.Errorf("%w: rebalance target %s must be positive, got %v", model.ErrValidation, sym, pct)
		}
		sum += pct
	}
	if math.Abs(sum-100) > TARGET_SUM_EPSILON {
		return nil, fmt.Errorf("%w: rebalance targets must sum to 100, got %v", model.ErrValidation, sum)
	}
	if cfg.TolerancePercent <= 0 {
		return nil, fmt.Errorf("%w: rebalance.tolerance_percent must be positive, got %v", model.ErrValidation, cfg.TolerancePercent)
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("%w: rebalance.group is required", model.ErrValidation)
	}

	return &RebalancePolicy{
		cfg:          cfg,
		groups:       groups,
		balances:     balances,
		prices:       prices,
		executor:     executor,
		tl:           tl,
		tolerance:    decimal.NewFromFloat(cfg.TolerancePercent),
		minPortfolio: decimal.NewFromFloat(cfg.MinPortfolioValueUSD),
		maxTrade:     decimal.NewFromFloat(cfg.MaxSingleTradeUSD),
		minTrade:     decimal.NewFromFloat(cfg.MinTradeValueUSD),
	}, nil
}

func (p *RebalancePolicy) Domain() string {
	return model.JOB_DOMAIN_REBALANCE
}

func (p *RebalancePolicy) CheckTrigger(ctx context.Context) (bool, error) {
	return p.cfg.Enable, nil
}

// BuildPlans 组合估值后逐资产算偏移，超容差的产出调仓动作；幂等键按组划分
func (p *RebalancePolicy) BuildPlans(ctx context.Context) ([]JobPlan, error) {
	group, err := p.groups.GetByName(ctx, p.cfg.Group)
	if err != nil {
		return nil, err
	}
	if group == nil || !group.Enabled || len(group.Wallets) == 0 {
		p.tl.Debug("rebalance group missing or disabled", zap.String("group", p.cfg.Group))
		return nil, nil
	}

	holdings, err := p.aggregateHoldings(ctx, group.Wallets)
	if err != nil {
		return nil, err
	}

	portfolio, values := p.valueHoldings(ctx, holdings)
	if portfolio.LessThan(p.minPortfolio) {
		p.tl.Debug("portfolio below rebalance floor",
			zap.String("group", p.cfg.Group),
			zap.String("portfolio_usd", portfolio.String()))
		return nil, nil
	}

	actions := p.driftActions(portfolio, values)
	if len(actions) == 0 {
		return nil, nil
	}

	return []JobPlan{{
		IdempotencyKey: fmt.Sprintf("rebalance:%s", p.cfg.Group),
		Payload: model.JobPayload{
			Rebalance: &model.RebalancePayload{
				Group:             p.cfg.Group,
				PortfolioValueUSD: portfolio,
				Actions:           actions,
			},
		},
	}}, nil
}

// aggregateHoldings 跨组内钱包按资产符号聚合持仓数量
func (p *RebalancePolicy) aggregateHoldings(ctx context.Context, wallets []string) (map[string]decimal.Decimal, error) {
	snapshots, err := p.balances.ListForWallets(ctx, wallets)
	if err != nil {
		return nil, err
	}

	holdings := make(map[string]decimal.Decimal)
	for _, snap := range snapshots {
		if snap.Amount.Sign() <= 0 {
			continue
		}
		holdings[snap.Symbol] = holdings[snap.Symbol].Add(snap.Amount)
	}
	return holdings, nil
}

// valueHoldings 用价格解析器对聚合持仓估值，返回组合总值与各资产USD价值
func (p *RebalancePolicy) valueHoldings(ctx context.Context, holdings map[string]decimal.Decimal) (decimal.Decimal, map[string]decimal.Decimal) {
	symbols := make([]string, 0, len(holdings))
	for sym := range holdings {
		symbols = append(symbols, sym)
	}
	quotes := p.prices.GetMultiplePrices(ctx, symbols)

	portfolio := decimal.Zero
	values := make(map[string]decimal.Decimal, len(holdings))
	for sym, amount := range holdings {
		quote, ok := quotes[sym]
		if !ok {
			p.tl.Warn("no price for holding, excluded from valuation", zap.String("symbol", sym))
			continue
		}
		value := amount.Mul(quote.ValueUSD)
		values[sym] = value
		portfolio = portfolio.Add(value)
	}
	return portfolio, values
}

// driftActions 配比偏移超容差的资产产出动作；不在目标表中的持仓按目标0处理
func (p *RebalancePolicy) driftActions(portfolio decimal.Decimal, values map[string]decimal.Decimal) []model.RebalanceAction {
	hundred := decimal.NewFromInt(100)

	symbols := make(map[string]struct{}, len(p.cfg.Targets)+len(values))
	for sym := range p.cfg.Targets {
		symbols[sym] = struct{}{}
	}
	for sym := range values {
		symbols[sym] = struct{}{}
	}

	ordered := make([]string, 0, len(symbols))
	for sym := range symbols {
		ordered = append(ordered, sym)
	}
	sort.Strings(ordered)

	var actions []model.RebalanceAction
	for _, sym := range ordered {
		target := decimal.NewFromFloat(p.cfg.Targets[sym])
		currentPct := decimal.Zero
		if v, ok := values[sym]; ok {
			currentPct = v.Div(portfolio).Mul(hundred)
		}

		drift := currentPct.Sub(target)
		if drift.Abs().LessThanOrEqual(p.tolerance) {
			continue
		}

		amountUSD := drift.Abs().Div(hundred).Mul(portfolio)
		if p.minTrade.Sign() > 0 && amountUSD.LessThan(p.minTrade) {
			// 尘额不值得上链
			continue
		}
		if p.maxTrade.Sign() > 0 && amountUSD.GreaterThan(p.maxTrade) {
			amountUSD = p.maxTrade
		}

		side := model.REBALANCE_SIDE_SELL
		if drift.Sign() < 0 {
			side = model.REBALANCE_SIDE_BUY
		}

		actions = append(actions, model.RebalanceAction{
			Symbol:       sym,
			Side:         side,
			AmountUSD:    amountUSD,
			DriftPercent: drift,
		})
	}
	return actions
}

func (p *RebalancePolicy) Execute(ctx context.Context, job *model.Job, payload *model.JobPayload) (*model.JobResult, error) {
	if payload.Rebalance == nil {
		return nil, fmt.Errorf("%w: rebalance payload missing", model.ErrValidation)
	}

	rp := payload.Rebalance
	var lastTx string
	for _, action := range rp.Actions {
		txHash, err := p.executor.ExecuteTrade(ctx, action.Symbol, action.Side, action.AmountUSD)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s %sUSD: %v", model.ErrExecution, action.Side, action.Symbol, action.AmountUSD.String(), err)
		}
		lastTx = txHash
		p.tl.Info("rebalance action executed",
			zap.String("group", rp.Group),
			zap.String("symbol", action.Symbol),
			zap.String("side", action.Side),
			zap.String("amount_usd", action.AmountUSD.String()),
			zap.String("tx_hash", txHash))
	}

	return &model.JobResult{TxHash: lastTx}, nil
}
