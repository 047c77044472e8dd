package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

func TestValidateRequest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		req  types.SettlementQueryRequest
		ok   bool
	}{
		{"missing bounds", types.SettlementQueryRequest{Start: start}, false},
		{"inverted", types.SettlementQueryRequest{Start: start, End: start.Add(-time.Hour)}, false},
		{"empty", types.SettlementQueryRequest{Start: start, End: start}, false},
		{"too long", types.SettlementQueryRequest{Start: start, End: start.AddDate(2, 0, 0)}, false},
		{"one month", types.SettlementQueryRequest{Start: start, End: start.AddDate(0, 1, 0)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestNewSettlementServiceRequiresClient(t *testing.T) {
	_, err := NewSettlementService(nil, "p", "d", "t")
	require.Error(t, err)
}
