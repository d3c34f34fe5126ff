package config

import (
	"testing"
)

func TestInitConfig(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("config file not present: %v", r)
		}
	}()
	cfg := InitConfig()
	t.Logf("cfg chain: %+v", cfg.Chain)
	t.Logf("cfg pricing: %+v", cfg.Pricing)
	t.Logf("cfg jobs: %+v", cfg.Jobs)
	t.Logf("cfg gas_topup: %+v", cfg.GasTopUp)
	t.Logf("cfg rebalance: %+v", cfg.Rebalance)
}
