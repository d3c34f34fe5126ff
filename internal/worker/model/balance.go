package model

import "github.com/shopspring/decimal"

// NATIVE_TOKEN_ADDRESS 原生币快照使用的占位地址
const NATIVE_TOKEN_ADDRESS = "native"

// BalanceSnapshot 钱包单资产的最新余额与估值快照
type BalanceSnapshot struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	WalletAddress string          `gorm:"column:wallet_address;type:varchar(64);not null;uniqueIndex:uniq_balance,priority:1" json:"wallet_address"`
	TokenAddress  string          `gorm:"column:token_address;type:varchar(64);not null;uniqueIndex:uniq_balance,priority:2" json:"token_address"`
	Symbol        string          `gorm:"column:symbol;type:varchar(32);not null;index" json:"symbol"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(50,20);not null;default:0" json:"amount"`
	ValueUSD      decimal.Decimal `gorm:"column:value_usd;type:decimal(50,20);not null;default:0" json:"value_usd"`
	BlockNumber   uint64          `gorm:"column:block_number;not null;default:0" json:"block_number"`
	UpdatedAt     int64           `gorm:"column:updated_at;not null" json:"updated_at"` // 毫秒时间戳
}

func (BalanceSnapshot) TableName() string {
	return "treasury.t_balance_snapshot"
}

// IsNative 是否为原生币快照
func (b *BalanceSnapshot) IsNative() bool {
	return b.TokenAddress == NATIVE_TOKEN_ADDRESS
}
