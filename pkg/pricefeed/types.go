package pricefeed

// Quote 报价源返回的单币种行情
type Quote struct {
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
}

// BatchQuotesResp 批量行情响应
type BatchQuotesResp struct {
	Quotes []Quote `json:"quotes"`
}
