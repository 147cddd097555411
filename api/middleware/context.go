package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/pkg/auth"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	if ctx == nil {
		return auth.Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

// UserIDFromContext returns "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := principalFrom(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	p, _ := principalFrom(ctx)
	return p.Role
}

// ActorFromContext returns the authenticated caller, or an unauthorized error when the request
// did not pass through Auth.
func ActorFromContext(ctx context.Context) (uuid.UUID, enums.UserRole, error) {
	p, ok := principalFrom(ctx)
	if !ok || p.UserID == uuid.Nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return p.UserID, p.Role, nil
}

// WithActor seeds the context the way Auth does.
func WithActor(ctx context.Context, userID uuid.UUID, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return withPrincipal(ctx, auth.Principal{UserID: userID, Role: role})
}
