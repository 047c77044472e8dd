package pagination_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := pagination.Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	encoded := pagination.EncodeCursor(in)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	out, err := pagination.ParseCursor(" " + encoded + " ")
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	blank, err := pagination.ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, blank)

	_, err = pagination.ParseCursor("not a cursor!")
	assert.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, pagination.DefaultLimit, pagination.NormalizeLimit(0))
	assert.Equal(t, pagination.MaxLimit, pagination.NormalizeLimit(5000))
	assert.Equal(t, 7, pagination.NormalizeLimit(7))
}

func TestKeysetWalksNewestFirstWithoutGapsOrRepeats(t *testing.T) {
	db := dbtest.Open(t)
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		product := dbtest.SeedProduct(t, db, seller.ID, 100_000)
		txn := dbtest.SeedTransaction(t, db, buyer, product, enums.TransactionStatusCompleted, fmt.Sprintf("TLP-PAGE%08d", i), base.Add(time.Duration(i)*time.Minute))
		want = append([]uuid.UUID{txn.ID}, want...)
	}

	var got []uuid.UUID
	var cursor *pagination.Cursor
	pages := 0
	for {
		var rows []models.Transaction
		require.NoError(t, pagination.Keyset(db.Model(&models.Transaction{}), 2, cursor).Find(&rows).Error)
		var next *pagination.Cursor
		rows, next = pagination.Trim(rows, 2, func(row models.Transaction) pagination.Cursor {
			return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
		})
		pages++
		for _, row := range rows {
			got = append(got, row.ID)
		}
		if next == nil {
			break
		}
		encoded := pagination.NextCursor(next)
		cursor, _ = pagination.ParseCursor(encoded)
		require.Less(t, pages, 5, "paging did not terminate")
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)
	assert.Equal(t, "", pagination.NextCursor(nil))
}
