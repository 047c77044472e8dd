package analytics

import (
	"net/http"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	"github.com/angelmondragon/tradeline-backend/internal/analytics"
	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// SettlementAnalytics serves the admin settlement dashboard: escrowed,
// paid-out, commission and refunded totals per day plus match-tier counts.
func SettlementAnalytics(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if service == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "analytics unavailable"))
			return
		}

		win, err := parseWindow(r, clock())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := service.Query(ctx, types.SettlementQueryRequest{Start: win.start, End: win.end})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
