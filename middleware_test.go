package idem_test

import (
	"context"
	"testing"

	"idem"
	"idem/persistence/memory"
)

func TestMakeIdempotent(t *testing.T) {
	store := memory.New("payments")

	executions := 0
	charge := idem.MakeIdempotent(func(ctx context.Context, payload []byte) ([]byte, error) {
		executions++
		return []byte("charged"), nil
	}, store)

	for i := 0; i < 3; i++ {
		result, err := charge(context.Background(), []byte(`{"amount": 100}`))
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if string(result) != "charged" {
			t.Errorf("call %d: expected %q, got %q", i, "charged", result)
		}
	}
	if executions != 1 {
		t.Errorf("expected 1 execution across 3 calls, got %d", executions)
	}
}

func TestMakeIdempotent_AppliesOptions(t *testing.T) {
	store := memory.New("payments")

	executions := 0
	fn := idem.MakeIdempotent(func(ctx context.Context, payload []byte) ([]byte, error) {
		executions++
		return nil, nil
	}, store, idem.WithHandlerConfig(idem.ApplyOptions(idem.WithDisabled(true))))

	for i := 0; i < 2; i++ {
		if _, err := fn(context.Background(), []byte("p")); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if executions != 2 {
		t.Errorf("disabled wrapper must run every call, got %d executions", executions)
	}
	if store.Len() != 0 {
		t.Errorf("disabled wrapper must not touch the store, holds %d records", store.Len())
	}
}
