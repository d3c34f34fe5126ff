package pricing

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"
	"treasury-worker/internal/worker/monitor"
	"treasury-worker/pkg/pricefeed"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const SERVICE_NAME = "pricefeed"

// QuoteSource 外部报价源的窄接口，*pricefeed.Client 满足该接口
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*pricefeed.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]pricefeed.Quote, error)
}

// Resolver 分层价格解析器
//
// 解析顺序：新鲜缓存 -> 过期缓存(同步返回+后台刷新) -> 实时拉取 -> 静态兜底。
// 缓存条目只在成功拉取时覆盖，不做淘汰，新鲜度按条目年龄分类。
type Resolver struct {
	cfg       config.PricingConfig
	source    QuoteSource
	telemetry monitor.Telemetry
	tl        *zap.Logger

	cache        *cache.Cache // symbol -> model.CacheEntry
	fallback     map[string]decimal.Decimal
	ttl          time.Duration
	fetchTimeout time.Duration
	chunkSize    int
	chunkDelay   time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	fallbacks atomic.Uint64
}

func NewResolver(cfg config.PricingConfig, source QuoteSource, telemetry monitor.Telemetry, tl *zap.Logger) *Resolver {
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	fetchTimeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}
	chunkDelay := time.Duration(cfg.ChunkDelayMs) * time.Millisecond
	if chunkDelay <= 0 {
		chunkDelay = 200 * time.Millisecond
	}

	fallback := make(map[string]decimal.Decimal, len(cfg.FallbackPrices))
	for sym, price := range cfg.FallbackPrices {
		fallback[strings.ToUpper(sym)] = decimal.NewFromFloat(price)
	}

	return &Resolver{
		cfg:          cfg,
		source:       source,
		telemetry:    telemetry,
		tl:           tl,
		cache:        cache.New(cache.NoExpiration, 0),
		fallback:     fallback,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		chunkSize:    chunkSize,
		chunkDelay:   chunkDelay,
	}
}

// GetPrice 解析单币种USD价格，返回报价与是否可解析
//
// 已配置兜底价的币种永远能拿到报价；报价源和兜底都没有的币种返回 false。
func (r *Resolver) GetPrice(ctx context.Context, symbol string) (model.PriceQuote, bool) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	if cached, found := r.cache.Get(sym); found {
		entry := cached.(model.CacheEntry)
		age := time.Since(entry.FetchedAt)

		// tier 1: 新鲜缓存直接返回
		if age < r.ttl {
			r.hits.Add(1)
			return r.quote(sym, entry.Value, model.PRICE_TIER_CACHED_RECENT), true
		}

		// tier 2: 过期缓存同步返回，后台刷新给后续调用方
		// 并发的过期读各自触发刷新，刷新结果幂等覆盖（不做single-flight合并）
		r.hits.Add(1)
		go r.refresh(sym)
		return r.quote(sym, entry.Value, model.PRICE_TIER_CACHED_STALE), true
	}

	r.misses.Add(1)

	// tier 3: 无缓存，限时实时拉取
	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	q, err := r.source.GetQuote(fetchCtx, sym)
	if err == nil && q != nil {
		value := decimal.NewFromFloat(q.PriceUSD)
		r.store(sym, value)
		r.telemetry.RecordServiceHealth(SERVICE_NAME, true, "")
		return r.quote(sym, value, model.PRICE_TIER_LIVE), true
	}

	// tier 4: 静态兜底
	reason := "fetch_error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	return r.resolveFallback(sym, reason)
}

// GetMultiplePrices 批量解析，新鲜缓存命中与分块拉取结果合并返回
//
// 某一分块失败只影响该分块内的币种，各自退回兜底价，不影响整批。
func (r *Resolver) GetMultiplePrices(ctx context.Context, symbols []string) map[string]model.PriceQuote {
	out := make(map[string]model.PriceQuote, len(symbols))
	need := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))

	for _, symbol := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		// 归一化后去重，过期缓存与未命中的币种也只进一次拉取队列
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if cached, found := r.cache.Get(sym); found {
			entry := cached.(model.CacheEntry)
			if time.Since(entry.FetchedAt) < r.ttl {
				r.hits.Add(1)
				out[sym] = r.quote(sym, entry.Value, model.PRICE_TIER_CACHED_RECENT)
				continue
			}
		}
		r.misses.Add(1)
		need = append(need, sym)
	}

	for start := 0; start < len(need); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(need) {
			end = len(need)
		}
		chunk := need[start:end]

		fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		quotes, err := r.source.GetQuotes(fetchCtx, chunk)
		cancel()

		if err != nil {
			// 整块失败，逐币种兜底
			reason := "fetch_error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			for _, sym := range chunk {
				if pq, ok := r.resolveFallback(sym, reason); ok {
					out[sym] = pq
				}
			}
		} else {
			r.telemetry.RecordServiceHealth(SERVICE_NAME, true, "")
			for _, sym := range chunk {
				if q, ok := quotes[sym]; ok {
					value := decimal.NewFromFloat(q.PriceUSD)
					r.store(sym, value)
					out[sym] = r.quote(sym, value, model.PRICE_TIER_LIVE)
				} else if pq, ok := r.resolveFallback(sym, "missing_in_response"); ok {
					out[sym] = pq
				}
			}
		}

		// 分块之间限速
		if end < len(need) {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(r.chunkDelay):
			}
		}
	}

	return out
}

// CacheStats 缓存统计快照
func (r *Resolver) CacheStats() model.CacheStats {
	stats := model.CacheStats{
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Fallbacks: r.fallbacks.Load(),
	}
	for _, item := range r.cache.Items() {
		entry := item.Object.(model.CacheEntry)
		stats.Entries++
		if time.Since(entry.FetchedAt) < r.ttl {
			stats.FreshEntries++
		} else {
			stats.StaleEntries++
		}
	}
	return stats
}

// refresh 后台刷新单币种，成功才覆盖缓存
func (r *Resolver) refresh(sym string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()

	q, err := r.source.GetQuote(ctx, sym)
	if err != nil || q == nil {
		r.tl.Debug("background price refresh failed", zap.String("symbol", sym), zap.Error(err))
		return
	}
	r.store(sym, decimal.NewFromFloat(q.PriceUSD))
}

func (r *Resolver) resolveFallback(sym, reason string) (model.PriceQuote, bool) {
	r.telemetry.RecordServiceHealth(SERVICE_NAME, false, reason)

	value, ok := r.fallback[sym]
	if !ok {
		r.tl.Warn("no quote source result and no fallback price", zap.String("symbol", sym))
		return model.PriceQuote{}, false
	}

	r.fallbacks.Add(1)
	r.telemetry.RecordFallbackUsage(SERVICE_NAME, reason)
	return r.quote(sym, value, model.PRICE_TIER_FALLBACK_STATIC), true
}

func (r *Resolver) store(sym string, value decimal.Decimal) {
	r.cache.Set(sym, model.CacheEntry{
		Symbol:    sym,
		Value:     value,
		FetchedAt: time.Now(),
	}, cache.NoExpiration)
}

func (r *Resolver) quote(sym string, value decimal.Decimal, tier string) model.PriceQuote {
	monitor.PriceTierResolved.WithLabelValues(tier).Inc()
	return model.PriceQuote{
		Symbol:     sym,
		ValueUSD:   value,
		OriginTier: tier,
		ObservedAt: time.Now(),
	}
}
