package dao

import (
	"context"
	"treasury-worker/internal/worker/model"
)

// BalanceDAO 定义余额估值快照的数据访问接口
type BalanceDAO interface {
	// Upsert 写入或覆盖钱包+资产的最新快照
	Upsert(ctx context.Context, snapshot *model.BalanceSnapshot) error

	// LatestNative 查询钱包原生币最新快照，无记录返回nil
	LatestNative(ctx context.Context, walletAddress string) (*model.BalanceSnapshot, error)

	// ListForWallet 查询单个钱包的全部资产快照
	ListForWallet(ctx context.Context, walletAddress string) ([]*model.BalanceSnapshot, error)

	// ListForWallets 查询多个钱包的全部资产快照
	ListForWallets(ctx context.Context, walletAddresses []string) ([]*model.BalanceSnapshot, error)
}
