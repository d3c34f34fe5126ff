package scanner

import (
	"encoding/hex"
	"treasury-worker/internal/worker/model"
)

// 常见DEX/ERC20方法选择器 -> 操作类型
var selectorOps = map[string]string{
	// ERC20
	"a9059cbb": model.OP_TYPE_TOKEN_TRANSFER, // transfer(address,uint256)
	"23b872dd": model.OP_TYPE_TOKEN_TRANSFER, // transferFrom(address,address,uint256)
	"095ea7b3": model.OP_TYPE_APPROVE,        // approve(address,uint256)

	// Uniswap V2/V3 路由
	"38ed1739": model.OP_TYPE_SWAP, // swapExactTokensForTokens
	"7ff36ab5": model.OP_TYPE_SWAP, // swapExactETHForTokens
	"18cbafe5": model.OP_TYPE_SWAP, // swapExactTokensForETH
	"5c11d795": model.OP_TYPE_SWAP, // swapExactTokensForTokensSupportingFeeOnTransferTokens
	"04e45aaf": model.OP_TYPE_SWAP, // exactInputSingle
	"414bf389": model.OP_TYPE_SWAP, // exactInputSingle (v3 periphery legacy)
	"c04b8d59": model.OP_TYPE_SWAP, // exactInput

	"e8e33700": model.OP_TYPE_LIQUIDITY_ADD,    // addLiquidity
	"f305d719": model.OP_TYPE_LIQUIDITY_ADD,    // addLiquidityETH
	"baa2abde": model.OP_TYPE_LIQUIDITY_REMOVE, // removeLiquidity
	"02751cec": model.OP_TYPE_LIQUIDITY_REMOVE, // removeLiquidityETH
}

// ClassifyInput 根据交易input的4字节方法选择器判断操作类型
//
// 空input为原生转账；未识别的选择器归为unknown。
func ClassifyInput(input []byte) string {
	if len(input) == 0 {
		return model.OP_TYPE_TRANSFER
	}
	if len(input) < 4 {
		return model.OP_TYPE_UNKNOWN
	}
	if op, ok := selectorOps[hex.EncodeToString(input[:4])]; ok {
		return op
	}
	return model.OP_TYPE_UNKNOWN
}
