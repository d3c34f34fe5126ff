package job

import (
	"context"
	"math/big"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/dao"
	"treasury-worker/internal/worker/model"
	"treasury-worker/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var (
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	decimalsSelector  = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// balanceClient 余额查询的链上协作方，*ethclient.Client 满足该接口
type balanceClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// priceSource 估值用价格源，*pricing.Resolver 满足该接口
type priceSource interface {
	GetMultiplePrices(ctx context.Context, symbols []string) map[string]model.PriceQuote
}

// BalanceRefresh 定时刷新托管钱包的原生币与代币余额快照
//
// 钱包集合为 gas 配置钱包与启用分组成员的并集；代币余额只刷新
// 已有快照行对应的合约（新代币由扫描事件建行）。
type BalanceRefresh struct {
	cfg      config.Config
	client   balanceClient
	balances dao.BalanceDAO
	groups   dao.WalletGroupDAO
	prices   priceSource
	tl       *zap.Logger

	decimalsCache *cache.Cache
}

// NewBalanceRefresh 创建余额刷新任务
func NewBalanceRefresh(cfg config.Config, client balanceClient, balances dao.BalanceDAO, groups dao.WalletGroupDAO, prices priceSource, tl *zap.Logger) *BalanceRefresh {
	return &BalanceRefresh{
		cfg:           cfg,
		client:        client,
		balances:      balances,
		groups:        groups,
		prices:        prices,
		tl:            tl,
		decimalsCache: cache.New(cache.NoExpiration, 0),
	}
}

// Run 执行单次刷新
func (j *BalanceRefresh) Run(ctx context.Context) error {
	wallets, err := j.collectWallets(ctx)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return nil
	}

	worker := pool.New().WithMaxGoroutines(10)
	for _, wallet := range wallets {
		w := wallet
		worker.Go(func() {
			if err := j.refreshWallet(ctx, w); err != nil {
				j.tl.Warn("refresh wallet failed", zap.String("wallet", w), zap.Error(err))
			}
		})
	}
	worker.Wait()

	j.tl.Debug("balance refresh completed", zap.Int("wallets", len(wallets)))
	return nil
}

// collectWallets gas钱包与启用分组成员去重后的并集
func (j *BalanceRefresh) collectWallets(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var wallets []string

	add := func(addr string) {
		normalized := utils.NormalizeAddress(addr)
		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}
		wallets = append(wallets, normalized)
	}

	for _, w := range j.cfg.GasTopUp.Wallets {
		add(w)
	}

	groups, err := j.groups.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		for _, w := range group.Wallets {
			add(w)
		}
	}
	return wallets, nil
}

func (j *BalanceRefresh) refreshWallet(ctx context.Context, wallet string) error {
	account := common.HexToAddress(wallet)

	native, err := j.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return err
	}
	amount := utils.AdjustDecimals(native, 18)
	j.upsert(ctx, wallet, model.NATIVE_TOKEN_ADDRESS, j.cfg.Chain.NativeSymbol, amount)

	// 已知代币行逐个刷新链上余额
	snaps, err := j.balances.ListForWallet(ctx, wallet)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if snap.IsNative() {
			continue
		}
		tokenAmount, err := j.tokenBalance(ctx, snap.TokenAddress, account)
		if err != nil {
			j.tl.Warn("token balance query failed",
				zap.String("wallet", wallet),
				zap.String("token", snap.TokenAddress),
				zap.Error(err))
			continue
		}
		j.upsert(ctx, wallet, snap.TokenAddress, snap.Symbol, tokenAmount)
	}
	return nil
}

func (j *BalanceRefresh) tokenBalance(ctx context.Context, tokenAddress string, account common.Address) (decimal.Decimal, error) {
	token := common.HexToAddress(tokenAddress)
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(account.Bytes(), 32)...)

	out, err := j.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, err
	}

	raw := new(big.Int).SetBytes(out)
	return utils.AdjustDecimals(raw, j.tokenDecimals(ctx, token)), nil
}

func (j *BalanceRefresh) tokenDecimals(ctx context.Context, token common.Address) uint8 {
	key := utils.NormalizeAddress(token.Hex())
	if cached, found := j.decimalsCache.Get(key); found {
		return cached.(uint8)
	}

	decimals := uint8(18)
	if out, err := j.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil); err == nil && len(out) >= 32 {
		decimals = out[31]
	}
	j.decimalsCache.Set(key, decimals, cache.NoExpiration)
	return decimals
}

func (j *BalanceRefresh) upsert(ctx context.Context, wallet, tokenAddress, symbol string, amount decimal.Decimal) {
	valueUSD := decimal.Zero
	if symbol != "" {
		if quote, ok := j.prices.GetMultiplePrices(ctx, []string{symbol})[symbol]; ok {
			valueUSD = amount.Mul(quote.ValueUSD)
		}
	}

	snapshot := &model.BalanceSnapshot{
		WalletAddress: wallet,
		TokenAddress:  tokenAddress,
		Symbol:        symbol,
		Amount:        amount,
		ValueUSD:      valueUSD,
		UpdatedAt:     time.Now().UnixMilli(),
	}
	if err := j.balances.Upsert(ctx, snapshot); err != nil {
		j.tl.Warn("upsert balance snapshot failed",
			zap.String("wallet", wallet),
			zap.String("token", tokenAddress),
			zap.Error(err))
	}
}
