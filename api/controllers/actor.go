package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/api/middleware"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

// requestActor resolves the authenticated caller placed in context by Auth.
func requestActor(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	if !p.Role.IsValid() {
		return uuid.Nil, "", pkgerrors.Newf(pkgerrors.CodeUnauthorized, "invalid role %q", p.Role)
	}
	return p.UserID, p.Role, nil
}
