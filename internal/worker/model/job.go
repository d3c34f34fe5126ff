package model

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	JOB_STATUS_PENDING    = "pending"
	JOB_STATUS_PROCESSING = "processing"
	JOB_STATUS_COMPLETED  = "completed"
	JOB_STATUS_FAILED     = "failed"
)

// JOB_ERROR_CANCELLED 用户取消时写入error_message的固定原因
const JOB_ERROR_CANCELLED = "cancelled_by_user"

const (
	JOB_DOMAIN_GAS_TOPUP = "gas_topup"
	JOB_DOMAIN_REBALANCE = "rebalance"
	JOB_DOMAIN_BATCH_OP  = "batch_operation"
)

// 批次执行结果：全部成功 completed，全部失败 failed，混合 partial
const (
	BATCH_RESULT_COMPLETED = "completed"
	BATCH_RESULT_PARTIAL   = "partial"
	BATCH_RESULT_FAILED    = "failed"
)

// Job 通用财库作业记录，payload 按域打包为 JSON
type Job struct {
	ID             string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Domain         string          `gorm:"column:domain;type:varchar(32);not null;index" json:"domain"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(128);not null;index" json:"idempotency_key"`
	Payload        datatypes.JSON  `gorm:"column:payload" json:"payload"`
	Status         string          `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	RetryCount     int             `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries     int             `gorm:"column:max_retries;not null;default:0" json:"max_retries"`
	ErrorMessage   string          `gorm:"column:error_message;type:text" json:"error_message"`
	ResultMetadata *datatypes.JSON `gorm:"column:result_metadata" json:"result_metadata"`
	CreatedAt      int64           `gorm:"column:created_at;not null;index" json:"created_at"` // 毫秒时间戳
	CompletedAt    *int64          `gorm:"column:completed_at" json:"completed_at"`
}

func (Job) TableName() string {
	return "treasury.t_job"
}

// IsTerminal completed/failed 为终态，不允许再迁出
func (j *Job) IsTerminal() bool {
	return j.Status == JOB_STATUS_COMPLETED || j.Status == JOB_STATUS_FAILED
}

func (j *Job) IsActive() bool {
	return j.Status == JOB_STATUS_PENDING || j.Status == JOB_STATUS_PROCESSING
}

// JobPayload 按域的 tagged union，恰好一个分支非空
type JobPayload struct {
	GasTopUp  *GasTopUpPayload  `json:"gas_topup,omitempty"`
	Rebalance *RebalancePayload `json:"rebalance,omitempty"`
	BatchOps  *BatchOpsPayload  `json:"batch_ops,omitempty"`
}

// Domain 根据非空分支返回域名，空 payload 返回 ""
func (p *JobPayload) Domain() string {
	switch {
	case p.GasTopUp != nil:
		return JOB_DOMAIN_GAS_TOPUP
	case p.Rebalance != nil:
		return JOB_DOMAIN_REBALANCE
	case p.BatchOps != nil:
		return JOB_DOMAIN_BATCH_OP
	}
	return ""
}

func (p *JobPayload) Marshal() (datatypes.JSON, error) {
	data, err := sonic.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func UnmarshalPayload(raw datatypes.JSON) (*JobPayload, error) {
	var p JobPayload
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GasTopUpPayload 单钱包 gas 补充
type GasTopUpPayload struct {
	WalletAddress  string          `json:"wallet_address"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TopUpAmount    decimal.Decimal `json:"topup_amount"`
}

const (
	REBALANCE_SIDE_BUY  = "buy"
	REBALANCE_SIDE_SELL = "sell"
)

// RebalanceAction 单资产调仓动作，金额为USD
type RebalanceAction struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	DriftPercent decimal.Decimal `json:"drift_percent"`
}

// RebalancePayload 钱包组合的调仓计划
type RebalancePayload struct {
	Group             string            `json:"group"`
	PortfolioValueUSD decimal.Decimal   `json:"portfolio_value_usd"`
	Actions           []RebalanceAction `json:"actions"`
}

const (
	BATCH_OP_TRANSFER    = "transfer"
	BATCH_OP_APPROVE     = "approve"
	BATCH_OP_TRADE       = "trade"
	BATCH_OP_LIMIT_ORDER = "limit_order"
)

// BatchOperation 批处理中的单个链上动作
type BatchOperation struct {
	Type       string          `json:"type"`
	Wallet     string          `json:"wallet"`
	To         string          `json:"to,omitempty"`
	Spender    string          `json:"spender,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Side       string          `json:"side,omitempty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// BatchOpsPayload 调用方提交的异构动作列表
type BatchOpsPayload struct {
	Operations []BatchOperation `json:"operations"`
}

// OperationResult 批处理中单个动作的执行结果
type OperationResult struct {
	Index    int    `json:"index"`
	Status   string `json:"status"` // completed / failed
	TxHash   string `json:"tx_hash,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// JobResult 作业完成后的结果元数据
type JobResult struct {
	TxHash      string            `json:"tx_hash,omitempty"`
	GasConsumed string            `json:"gas_consumed,omitempty"`
	BatchStatus string            `json:"batch_status,omitempty"`
	Operations  []OperationResult `json:"operations,omitempty"`
	Simulated   bool              `json:"simulated,omitempty"`
}

func (r *JobResult) Marshal() (*datatypes.JSON, error) {
	data, err := sonic.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSON(data)
	return &out, nil
}

// JobFilter 作业历史查询条件，零值字段不参与过滤
type JobFilter struct {
	Domain        string
	Status        string
	CreatedAfter  int64 // 毫秒时间戳
	CreatedBefore int64
}

func NowMilli() int64 {
	return time.Now().UnixMilli()
}
