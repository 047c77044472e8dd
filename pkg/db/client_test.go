package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/dbtest"
)

type journalLine struct {
	ID   int
	Memo string
}

func journal(t *testing.T) (*Client, func() []string) {
	t.Helper()
	conn := dbtest.Open(t)
	require.NoError(t, conn.AutoMigrate(&journalLine{}))
	memos := func() []string {
		var out []string
		require.NoError(t, conn.Model(&journalLine{}).Order("id").Pluck("memo", &out).Error)
		return out
	}
	return Wrap(conn), memos
}

func write(memo string) func(*gorm.DB) error {
	return func(tx *gorm.DB) error { return tx.Create(&journalLine{Memo: memo}).Error }
}

func TestWithTxCommitsOrRollsBack(t *testing.T) {
	client, memos := journal(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, write("escrow funded")))
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, write("half-done payout")(tx))
		return errors.New("transfer rejected")
	})
	assert.EqualError(t, err, "transfer rejected")
	assert.Equal(t, []string{"escrow funded"}, memos())
}

func TestWithTxRetriesSerializationFailure(t *testing.T) {
	client, memos := journal(t)
	client.txRetries = 2

	attempt := 0
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		attempt++
		if err := write(fmt.Sprintf("attempt-%d", attempt))(tx); err != nil {
			return err
		}
		if attempt == 1 {
			return fmt.Errorf("update escrow: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, []string{"attempt-2"}, memos(), "failed attempt must roll back")
}

func TestWithTxGivesUpOnOtherErrors(t *testing.T) {
	client, _ := journal(t)
	client.txRetries = 2

	attempts := 0
	err := client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "23505"}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "unique violations are not retried")
}

func TestPing(t *testing.T) {
	client, _ := journal(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestIsUniqueViolation(t *testing.T) {
	const constraint = "uq_transactions_payment_reference"
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: constraint}
	cases := map[string]struct {
		err        error
		constraint string
		want       bool
	}{
		"wrapped postgres": {fmt.Errorf("insert: %w", pgErr), constraint, true},
		"other constraint": {pgErr, "some_other_index", false},
		"sqlite":           {errors.New("UNIQUE constraint failed: transactions.payment_reference"), constraint, true},
		"unrelated":        {errors.New("connection refused"), "", false},
		"nil":              {nil, "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}
