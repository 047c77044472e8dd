package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// Principal is the caller Auth resolved from the bearer token.
type Principal struct {
	UserID  uuid.UUID
	Role    enums.UserRole
	TokenID string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom reports false for requests that never passed Auth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != uuid.Nil
}

// UserIDFromContext is "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Role
	}
	return ""
}
