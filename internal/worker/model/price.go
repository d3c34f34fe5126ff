package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 价格来源层级
const (
	PRICE_TIER_LIVE            = "live"
	PRICE_TIER_CACHED_RECENT   = "cached_recent"
	PRICE_TIER_CACHED_STALE    = "cached_stale"
	PRICE_TIER_FALLBACK_STATIC = "fallback_static"
)

// PriceQuote 带新鲜度层级的USD报价
type PriceQuote struct {
	Symbol     string          `json:"symbol"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	OriginTier string          `json:"origin_tier"`
	ObservedAt time.Time       `json:"observed_at"`
}

// CacheEntry 价格缓存条目，只在成功拉取时覆盖写入
type CacheEntry struct {
	Symbol    string          `json:"symbol"`
	Value     decimal.Decimal `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// CacheStats 价格缓存统计
type CacheStats struct {
	Entries      int    `json:"entries"`
	FreshEntries int    `json:"fresh_entries"`
	StaleEntries int    `json:"stale_entries"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Fallbacks    uint64 `json:"fallbacks"`
}
