package orchestrator

import (
	"context"
	"errors"
	"testing"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type memBalanceDAO struct {
	native map[string]*model.BalanceSnapshot
	snaps  []*model.BalanceSnapshot
}

func (m *memBalanceDAO) Upsert(ctx context.Context, snapshot *model.BalanceSnapshot) error {
	m.snaps = append(m.snaps, snapshot)
	return nil
}

func (m *memBalanceDAO) LatestNative(ctx context.Context, walletAddress string) (*model.BalanceSnapshot, error) {
	return m.native[walletAddress], nil
}

func (m *memBalanceDAO) ListForWallet(ctx context.Context, walletAddress string) ([]*model.BalanceSnapshot, error) {
	var out []*model.BalanceSnapshot
	for _, s := range m.snaps {
		if s.WalletAddress == walletAddress {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memBalanceDAO) ListForWallets(ctx context.Context, walletAddresses []string) ([]*model.BalanceSnapshot, error) {
	var out []*model.BalanceSnapshot
	for _, w := range walletAddresses {
		matched, _ := m.ListForWallet(ctx, w)
		out = append(out, matched...)
	}
	return out, nil
}

func nativeSnap(wallet string, amount float64) *model.BalanceSnapshot {
	return &model.BalanceSnapshot{
		WalletAddress: wallet,
		TokenAddress:  model.NATIVE_TOKEN_ADDRESS,
		Symbol:        "BNB",
		Amount:        decimal.NewFromFloat(amount),
	}
}

type fakeGasExecutor struct {
	err   error
	calls int
}

func (f *fakeGasExecutor) TopUp(ctx context.Context, wallet string, amount decimal.Decimal) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "0xgas", "21000", nil
}

func gasTopUpConfig() config.GasTopUpConfig {
	return config.GasTopUpConfig{
		Enable:     true,
		MinBalance: 0.01,
		Buffer:     0.005,
		MaxBalance: 0.05,
		Wallets:    []string{"0xAAA0000000000000000000000000000000000001"},
	}
}

func TestGasTopUpSizesToMinPlusBuffer(t *testing.T) {
	balances := &memBalanceDAO{native: map[string]*model.BalanceSnapshot{
		"0xaaa0000000000000000000000000000000000001": nativeSnap("0xaaa0000000000000000000000000000000000001", 0.001),
	}}
	p, err := NewGasTopUpPolicy(gasTopUpConfig(), balances, &fakeGasExecutor{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plans, err := p.BuildPlans(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}

	topup := plans[0].Payload.GasTopUp.TopUpAmount
	if !topup.Equal(decimal.NewFromFloat(0.014)) {
		t.Fatalf("expected top-up 0.014, got %s", topup)
	}
	if plans[0].IdempotencyKey != "gas_topup:0xaaa0000000000000000000000000000000000001" {
		t.Fatalf("unexpected idempotency key %s", plans[0].IdempotencyKey)
	}
}

func TestGasTopUpNoPlanWhenBalanceSufficient(t *testing.T) {
	balances := &memBalanceDAO{native: map[string]*model.BalanceSnapshot{
		"0xaaa0000000000000000000000000000000000001": nativeSnap("0xaaa0000000000000000000000000000000000001", 0.02),
	}}
	p, _ := NewGasTopUpPolicy(gasTopUpConfig(), balances, &fakeGasExecutor{}, zap.NewNop())

	plans, err := p.BuildPlans(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plans) != 0 {
		t.Fatalf("expected no plans at 0.02 balance, got %d", len(plans))
	}
}

func TestGasTopUpCappedByMaxBalance(t *testing.T) {
	cfg := gasTopUpConfig()
	cfg.Buffer = 0.1 // min+buffer 超过 max，目标被钳到 max

	balances := &memBalanceDAO{native: map[string]*model.BalanceSnapshot{
		"0xaaa0000000000000000000000000000000000001": nativeSnap("0xaaa0000000000000000000000000000000000001", 0.001),
	}}
	p, _ := NewGasTopUpPolicy(cfg, balances, &fakeGasExecutor{}, zap.NewNop())

	plans, _ := p.BuildPlans(context.Background())
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
	if got := plans[0].Payload.GasTopUp.TopUpAmount; !got.Equal(decimal.NewFromFloat(0.049)) {
		t.Fatalf("expected top-up 0.049, got %s", got)
	}
}

func TestGasTopUpSkipsWalletWithoutSnapshot(t *testing.T) {
	balances := &memBalanceDAO{native: map[string]*model.BalanceSnapshot{}}
	p, _ := NewGasTopUpPolicy(gasTopUpConfig(), balances, &fakeGasExecutor{}, zap.NewNop())

	plans, err := p.BuildPlans(context.Background())
	if err != nil || len(plans) != 0 {
		t.Fatalf("expected no plans without snapshots, got %d err %v", len(plans), err)
	}
}

func TestGasTopUpConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.GasTopUpConfig)
	}{
		{"zero min balance", func(c *config.GasTopUpConfig) { c.MinBalance = 0 }},
		{"negative buffer", func(c *config.GasTopUpConfig) { c.Buffer = -0.1 }},
		{"max not above min", func(c *config.GasTopUpConfig) { c.MaxBalance = 0.01 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := gasTopUpConfig()
			tc.mutate(&cfg)
			if _, err := NewGasTopUpPolicy(cfg, &memBalanceDAO{}, &fakeGasExecutor{}, zap.NewNop()); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGasTopUpExecuteDelegatesToExecutor(t *testing.T) {
	exec := &fakeGasExecutor{}
	p, _ := NewGasTopUpPolicy(gasTopUpConfig(), &memBalanceDAO{}, exec, zap.NewNop())

	payload := &model.JobPayload{GasTopUp: &model.GasTopUpPayload{
		WalletAddress: "0xaaa",
		TopUpAmount:   decimal.NewFromFloat(0.014),
	}}
	result, err := p.Execute(context.Background(), &model.Job{ID: "j1"}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TxHash != "0xgas" || exec.calls != 1 {
		t.Fatalf("expected delegated execution, got %+v calls %d", result, exec.calls)
	}

	exec.err = errors.New("nonce too low")
	if _, err := p.Execute(context.Background(), &model.Job{ID: "j2"}, payload); !errors.Is(err, model.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
}
