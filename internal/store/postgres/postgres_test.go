package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestEnsureSchema_RunsSchemaSQL(t *testing.T) {
	pool, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer pool.Close()

	pool.ExpectExec(schemaSQL).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := EnsureSchema(context.Background(), pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureSchema_PropagatesError(t *testing.T) {
	pool, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer pool.Close()

	pool.ExpectExec(schemaSQL).WillReturnError(context.DeadlineExceeded)

	if err := EnsureSchema(context.Background(), pool); err == nil {
		t.Fatal("expected an error from EnsureSchema")
	}
}
