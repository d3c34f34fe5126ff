package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"time"
	"treasury-worker/internal/worker/config"
	"treasury-worker/pkg/httpclient"

	"go.uber.org/zap"
)

// Client 外部报价源客户端，支持单币种与批量查询
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.HTTPClient
	logger     *zap.Logger
}

func NewClient(cfg config.PricingConfig, logger *zap.Logger) *Client {
	// 创建HTTP客户端配置
	httpCfg := httpclient.HTTPClientConfig{
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		RateLimit:  cfg.RateLimit,
		MaxRetries: 3,
		XApiKey:    cfg.APIKey,
	}

	// 创建HTTP客户端
	httpClient := httpclient.NewHTTPClient(httpCfg, logger)

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetQuote 查询单币种USD行情
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	url := fmt.Sprintf("%s/api/v3/price?symbol=%s", c.baseURL, strings.ToUpper(symbol))

	var quote Quote
	if err := c.httpClient.Get(ctx, url, nil, nil, &quote); err != nil {
		return nil, fmt.Errorf("fetch quote failed, symbol: %s, error: %w", symbol, err)
	}
	if quote.Symbol == "" {
		quote.Symbol = strings.ToUpper(symbol)
	}

	return &quote, nil
}

// GetQuotes 批量查询行情，返回 symbol -> Quote
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}
	url := fmt.Sprintf("%s/api/v3/price/batch?symbols=%s", c.baseURL, strings.Join(upper, ","))

	var resp BatchQuotesResp
	if err := c.httpClient.Get(ctx, url, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch batch quotes failed, symbols: %v, error: %w", symbols, err)
	}

	out := make(map[string]Quote, len(resp.Quotes))
	for _, q := range resp.Quotes {
		out[strings.ToUpper(q.Symbol)] = q
	}
	return out, nil
}
