package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct{ pgx.Tx }

func TestTxFromContext_None(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx")
	}
}

func TestContextWithTx_RoundTrip(t *testing.T) {
	tx := &fakeTx{}
	ctx := ContextWithTx(context.Background(), tx)
	if TxFromContext(ctx) != tx {
		t.Error("expected tx to round-trip through context")
	}
}

func TestWithTx_NoConn(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil || err.Error() != "no database connection in context" {
		t.Fatalf("expected no-connection error, got %v", err)
	}
}

func TestWithinTx_JoinsExisting(t *testing.T) {
	tx := &fakeTx{}
	ctx := ContextWithTx(context.Background(), tx)
	m := NewTxManager(nil)

	var seen pgx.Tx
	err := m.WithinTx(ctx, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != tx {
		t.Error("expected fn to run in the outer transaction")
	}
}

func TestWithinTx_PropagatesErrorWhenJoined(t *testing.T) {
	ctx := ContextWithTx(context.Background(), &fakeTx{})
	want := errors.New("boom")
	if err := NewTxManager(nil).WithinTx(ctx, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestWithinTx_NoConnection(t *testing.T) {
	err := NewTxManager(nil).WithinTx(context.Background(), func(context.Context) error {
		t.Fatal("fn should not run")
		return nil
	})
	if err == nil {
		t.Fatal("expected error without pool or connection")
	}
}

func TestAdvisoryXactLock_RequiresTx(t *testing.T) {
	if err := AdvisoryXactLock(context.Background(), 42); err == nil {
		t.Fatal("expected error outside a transaction")
	}
}
