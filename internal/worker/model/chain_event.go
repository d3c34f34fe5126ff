package model

import (
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	OP_TYPE_TRANSFER         = "transfer"
	OP_TYPE_TOKEN_TRANSFER   = "token_transfer"
	OP_TYPE_APPROVE          = "approve"
	OP_TYPE_SWAP             = "swap"
	OP_TYPE_LIQUIDITY_ADD    = "liquidity_add"
	OP_TYPE_LIQUIDITY_REMOVE = "liquidity_remove"
	OP_TYPE_UNKNOWN          = "unknown"
)

const (
	EVENT_STATUS_SUCCESS = "success"
	EVENT_STATUS_FAILED  = "failed"
)

// TokenMeta 代币元信息，原生币事件为空
type TokenMeta struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainEvent 监控地址的链上活动记录，入队后不再修改
type ChainEvent struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TxHash         string          `gorm:"column:tx_hash;type:varchar(100);not null;uniqueIndex:uniq_event,priority:1" json:"tx_hash"`
	LogIndex       int             `gorm:"column:log_index;not null;default:0;uniqueIndex:uniq_event,priority:2" json:"log_index"`
	FromAddress    string          `gorm:"column:from_address;type:varchar(64);not null;index" json:"from_address"`
	ToAddress      string          `gorm:"column:to_address;type:varchar(64);not null;index" json:"to_address"`
	Value          decimal.Decimal `gorm:"column:value;type:decimal(50,20);not null;default:0" json:"value"`
	TokenMeta      *datatypes.JSON `gorm:"column:token_meta" json:"token_meta"`
	GasUsed        uint64          `gorm:"column:gas_used;not null;default:0" json:"gas_used"`
	GasPrice       decimal.Decimal `gorm:"column:gas_price;type:decimal(50,0);not null;default:0" json:"gas_price"`
	BlockNumber    uint64          `gorm:"column:block_number;not null;index" json:"block_number"`
	BlockTimestamp int64           `gorm:"column:block_timestamp;not null" json:"block_timestamp"`
	Status         string          `gorm:"column:status;type:varchar(16);not null" json:"status"`
	OperationType  string          `gorm:"column:operation_type;type:varchar(32);not null" json:"operation_type"`
	CreatedAt      int64           `gorm:"column:created_at;not null" json:"created_at"` // 毫秒时间戳
}

func (ChainEvent) TableName() string {
	return "treasury.t_chain_event"
}

// SetTokenMeta 打包代币元信息
func (e *ChainEvent) SetTokenMeta(meta TokenMeta) {
	data, err := sonic.Marshal(meta)
	if err != nil {
		return
	}
	j := datatypes.JSON(data)
	e.TokenMeta = &j
}

// GetTokenMeta 解出代币元信息，原生币事件返回 nil
func (e *ChainEvent) GetTokenMeta() *TokenMeta {
	if e.TokenMeta == nil {
		return nil
	}
	var meta TokenMeta
	if err := sonic.Unmarshal(*e.TokenMeta, &meta); err != nil {
		return nil
	}
	return &meta
}
