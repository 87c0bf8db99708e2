package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestWithTx_CommitsAndExposesTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reservations").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(ctx context.Context) error {
		if ConnFromContext(ctx) == nil {
			t.Fatal("expected transaction on context")
		}
		_, err := Conn(ctx, mock).Exec(ctx, "UPDATE reservations SET note = ''")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTx(context.Background(), mock, func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTx_NestedReusesOuter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = WithTx(context.Background(), mock, func(ctx context.Context) error {
		outer := ConnFromContext(ctx)
		return WithTx(ctx, mock, func(ctx context.Context) error {
			if ConnFromContext(ctx) != outer {
				t.Error("expected nested call to reuse the outer transaction")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithTx() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConn_FallsBackToPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	if Conn(context.Background(), mock) != Querier(mock) {
		t.Error("expected pool when no transaction is on the context")
	}
}
