package utils

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NormalizeAddress 地址统一小写，作为内部索引键
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ChecksumAddress 将 EVM 地址转换为 EIP-55 Checksum 格式
func ChecksumAddress(addr string) string {
	if addr == "" {
		return ""
	}
	addr = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	return common.HexToAddress("0x" + addr).Hex()
}

// AdjustDecimals 按代币精度换算显示数量
func AdjustDecimals(value *big.Int, decimals uint8) decimal.Decimal {
	decimalValue := decimal.NewFromBigInt(value, 0)
	divisor := decimal.New(1, int32(decimals))
	return decimalValue.Div(divisor)
}

// FormatUnits 格式化单位转换
func FormatUnits(amount *big.Int, decimals uint8) string {
	decimalAmount := decimal.NewFromBigInt(amount, 0)
	divisor := decimal.New(1, int32(decimals))
	result := decimalAmount.Div(divisor)
	return result.StringFixed(int32(decimals))
}

// IsUnixSeconds 检查时间戳是否为秒级
func IsUnixSeconds(ts int64) bool {
	const maxUnix = 4_102_444_800 // 2100-01-01 00:00:00 UTC
	return ts >= 0 && ts < maxUnix
}
