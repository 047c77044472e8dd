package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// RequireRole admits callers holding any of allowed. A request that never
// passed Auth is answered 401 rather than 403.
func RequireRole(logg *logger.Logger, allowed ...enums.UserRole) func(http.Handler) http.Handler {
	names := make([]string, len(allowed))
	for i, role := range allowed {
		names[i] = role.String()
	}
	denied := strings.Join(names, " or ") + " role required"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			switch role := RoleFromContext(ctx); {
			case role == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			case !slices.Contains(allowed, role):
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, denied))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
