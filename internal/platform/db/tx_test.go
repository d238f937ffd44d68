package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithinTx_NoPool(t *testing.T) {
	m := NewTxManager(nil)
	called := false
	err := m.WithinTx(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without a pool")
	}
	if called {
		t.Error("fn must not run without a transaction")
	}
}

func TestIsPgError(t *testing.T) {
	err := fmt.Errorf("insert availability: %w", &pgconn.PgError{Code: CodeExclusionViolation})
	if !IsPgError(err, CodeExclusionViolation) {
		t.Error("expected exclusion violation to match")
	}
	if IsPgError(err, CodeUniqueViolation) {
		t.Error("did not expect unique violation to match")
	}
	if IsPgError(errors.New("plain"), CodeUniqueViolation) {
		t.Error("did not expect plain error to match")
	}
}
