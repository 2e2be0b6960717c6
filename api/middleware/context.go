package middleware

import "context"

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRole
)

func value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func with(ctx context.Context, key contextKey, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

// UserIDFromContext returns the caller resolved by Actor, or "".
func UserIDFromContext(ctx context.Context) string { return value(ctx, ctxUserID) }

// RoleFromContext returns the lower-cased actor role, or "".
func RoleFromContext(ctx context.Context) string { return value(ctx, ctxRole) }

func WithUserID(ctx context.Context, userID string) context.Context {
	return with(ctx, ctxUserID, userID)
}

func WithRole(ctx context.Context, role string) context.Context {
	return with(ctx, ctxRole, role)
}
