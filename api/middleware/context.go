package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/negomaq/storefront-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return id, ok
}

// RoleFromContext returns the authenticated member role, if any.
func RoleFromContext(ctx context.Context) (enums.MemberRole, bool) {
	role, ok := ctx.Value(ctxRole).(enums.MemberRole)
	return role, ok
}

// WithUserID seeds an authenticated identity, used by tests.
func WithUserID(ctx context.Context, userID uuid.UUID, role enums.MemberRole) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxRole, role)
}
