package model

import "github.com/lib/pq"

// WalletGroup 作为一个整体进行调仓的托管钱包分组
type WalletGroup struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string         `gorm:"column:name;type:varchar(64);not null;uniqueIndex" json:"name"`
	Wallets   pq.StringArray `gorm:"column:wallets;type:text[]" json:"wallets"`
	Enabled   bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	CreatedAt int64          `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt int64          `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (WalletGroup) TableName() string {
	return "treasury.t_wallet_group"
}
