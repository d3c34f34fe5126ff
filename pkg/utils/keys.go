package utils

import "fmt"

func BalanceSnapshotKey(walletAddress, tokenAddress string) string {
	return fmt.Sprintf("treasury:balance:%s:%s", walletAddress, tokenAddress)
}

func WalletGroupKey(name string) string {
	return fmt.Sprintf("treasury:wallet_group:%s", name)
}

func JobHistoryKey(domain, status string, limit int) string {
	return fmt.Sprintf("treasury:job_history:%s:%s:%d", domain, status, limit)
}
