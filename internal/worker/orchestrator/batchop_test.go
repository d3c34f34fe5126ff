package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"treasury-worker/internal/worker/config"
	"treasury-worker/internal/worker/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeOpExecutor struct {
	// failWallets 中的钱包每次执行都失败
	failWallets map[string]bool
	calls       int
}

func (f *fakeOpExecutor) ExecuteOperation(ctx context.Context, op model.BatchOperation) (string, error) {
	f.calls++
	if f.failWallets[op.Wallet] {
		return "", errors.New("execution reverted")
	}
	return fmt.Sprintf("0xop%d", f.calls), nil
}

func transferOp(wallet string) model.BatchOperation {
	return model.BatchOperation{
		Type:   model.BATCH_OP_TRANSFER,
		Wallet: wallet,
		To:     "0xrecipient",
		Amount: decimal.NewFromInt(1),
	}
}

func newBatchPolicy(exec *fakeOpExecutor) *BatchOpPolicy {
	return NewBatchOpPolicy(config.BatchConfig{MaxRetries: 3}, exec, zap.NewNop())
}

func TestBatchPartialWhenOneOperationExhaustsRetries(t *testing.T) {
	exec := &fakeOpExecutor{failWallets: map[string]bool{"0xbad": true}}
	p := newBatchPolicy(exec)

	ops := []model.BatchOperation{
		transferOp("0xw1"),
		transferOp("0xw2"),
		transferOp("0xbad"),
		transferOp("0xw3"),
		transferOp("0xw4"),
	}
	payload := &model.JobPayload{BatchOps: &model.BatchOpsPayload{Operations: ops}}

	result, err := p.Execute(context.Background(), &model.Job{ID: "b1"}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BatchStatus != model.BATCH_RESULT_PARTIAL {
		t.Fatalf("expected partial, got %s", result.BatchStatus)
	}
	if len(result.Operations) != 5 {
		t.Fatalf("expected 5 operation results, got %d", len(result.Operations))
	}

	failed := result.Operations[2]
	if failed.Status != OP_RESULT_FAILED || failed.Attempts != 3 {
		t.Fatalf("expected op 2 failed after 3 attempts, got %+v", failed)
	}
	if failed.Error == "" {
		t.Fatal("expected failure reason recorded")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if result.Operations[i].Status != OP_RESULT_COMPLETED {
			t.Fatalf("expected op %d completed, got %+v", i, result.Operations[i])
		}
		if result.Operations[i].TxHash == "" {
			t.Fatalf("expected tx hash on op %d", i)
		}
	}
}

func TestBatchCompletedWhenAllSucceed(t *testing.T) {
	p := newBatchPolicy(&fakeOpExecutor{})

	payload := &model.JobPayload{BatchOps: &model.BatchOpsPayload{
		Operations: []model.BatchOperation{transferOp("0xw1"), transferOp("0xw2")},
	}}
	result, err := p.Execute(context.Background(), &model.Job{ID: "b2"}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BatchStatus != model.BATCH_RESULT_COMPLETED {
		t.Fatalf("expected completed, got %s", result.BatchStatus)
	}
}

func TestBatchFailedWhenAllFail(t *testing.T) {
	exec := &fakeOpExecutor{failWallets: map[string]bool{"0xbad": true}}
	p := newBatchPolicy(exec)

	payload := &model.JobPayload{BatchOps: &model.BatchOpsPayload{
		Operations: []model.BatchOperation{transferOp("0xbad"), transferOp("0xbad")},
	}}
	result, err := p.Execute(context.Background(), &model.Job{ID: "b3"}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BatchStatus != model.BATCH_RESULT_FAILED {
		t.Fatalf("expected failed, got %s", result.BatchStatus)
	}
	// 每个动作都重试到上限
	if exec.calls != 6 {
		t.Fatalf("expected 6 attempts total, got %d", exec.calls)
	}
}

func TestBatchValidateOperations(t *testing.T) {
	p := newBatchPolicy(&fakeOpExecutor{})

	cases := []struct {
		name string
		op   model.BatchOperation
	}{
		{"unknown type", model.BatchOperation{Type: "stake", Wallet: "0xw", Amount: decimal.NewFromInt(1)}},
		{"transfer missing to", model.BatchOperation{Type: model.BATCH_OP_TRANSFER, Wallet: "0xw", Amount: decimal.NewFromInt(1)}},
		{"approve missing spender", model.BatchOperation{Type: model.BATCH_OP_APPROVE, Wallet: "0xw", Amount: decimal.NewFromInt(1)}},
		{"trade missing side", model.BatchOperation{Type: model.BATCH_OP_TRADE, Wallet: "0xw", Symbol: "BNB", Amount: decimal.NewFromInt(1)}},
		{"limit order without price", model.BatchOperation{Type: model.BATCH_OP_LIMIT_ORDER, Wallet: "0xw", Symbol: "BNB", Side: "buy", Amount: decimal.NewFromInt(1)}},
		{"missing wallet", transferWithoutWallet()},
		{"zero amount", model.BatchOperation{Type: model.BATCH_OP_TRANSFER, Wallet: "0xw", To: "0xr"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ValidateOperations([]model.BatchOperation{tc.op})
			if !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if err := p.ValidateOperations(nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected empty batch rejected, got %v", err)
	}
	if err := p.ValidateOperations([]model.BatchOperation{transferOp("0xw1")}); err != nil {
		t.Fatalf("expected valid batch accepted, got %v", err)
	}
}

func transferWithoutWallet() model.BatchOperation {
	op := transferOp("0xw1")
	op.Wallet = ""
	return op
}

func TestBatchRetryStopsOnContextCancel(t *testing.T) {
	exec := &fakeOpExecutor{failWallets: map[string]bool{"0xbad": true}}
	p := newBatchPolicy(exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.executeOne(ctx, 0, transferOp("0xbad"))
	if res.Status != OP_RESULT_FAILED {
		t.Fatalf("expected failed on cancelled context, got %+v", res)
	}
	if exec.calls != 1 {
		t.Fatalf("expected retry loop aborted after first attempt, got %d calls", exec.calls)
	}
}
