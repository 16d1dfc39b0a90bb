package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/keymarket-backend/pkg/enums"
	"github.com/angelmondragon/keymarket-backend/pkg/outbox"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
	ctxEmail  contextKey = "email"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// WithPrincipal seeds the context the way Auth does after verifying a token.
func WithPrincipal(ctx context.Context, userID uuid.UUID, role enums.Role, email string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID.String())
	ctx = context.WithValue(ctx, ctxRole, string(role))
	return context.WithValue(ctx, ctxEmail, email)
}

// PrincipalID returns the authenticated user id, if any.
func PrincipalID(ctx context.Context) (uuid.UUID, bool) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ActorFromContext builds the outbox actor for the caller. Anonymous callers
// get a nil actor.
func ActorFromContext(ctx context.Context) *outbox.ActorRef {
	id, ok := PrincipalID(ctx)
	if !ok {
		return nil
	}
	return &outbox.ActorRef{UserID: &id, Role: RoleFromContext(ctx)}
}
