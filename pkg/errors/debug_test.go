package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpNormalisesPostgresDrivers(t *testing.T) {
	pgx := fmt.Errorf("insert transaction: %w", &pgconn.PgError{
		Code:           "23514",
		ConstraintName: "transactions_split_check",
		TableName:      "transactions",
	})
	d := Dump(Wrap(CodeInvariantViolation, pgx, "settle"))
	if d.Code != CodeInvariantViolation {
		t.Fatalf("expected typed code, got %q", d.Code)
	}
	if d.PG == nil || d.PG.Constraint != "transactions_split_check" {
		t.Fatalf("expected pgx fault, got %+v", d.PG)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full unwrap chain, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["pg_table"] != "transactions" {
		t.Fatalf("missing pg_table: %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg attributes should be omitted: %v", fields)
	}

	pqFault := PGFaultOf(&pq.Error{Code: "40P01", Table: "platform_wallet_entries"})
	if pqFault == nil || !pqFault.Transient() {
		t.Fatalf("deadlock from lib/pq should be transient: %+v", pqFault)
	}
}

func TestDumpWithoutDatabaseError(t *testing.T) {
	d := Dump(stdErrors.New("paystack timeout"))
	if d.PG != nil {
		t.Fatalf("unexpected pg fault %+v", d.PG)
	}
	if _, ok := d.Fields()["pg_code"]; ok {
		t.Fatalf("pg_code should be absent")
	}
	var nilFault *PGFault
	if nilFault.Transient() {
		t.Fatalf("nil fault is never transient")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil error should dump empty")
	}
}
