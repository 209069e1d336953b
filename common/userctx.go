package common

import "context"

// UserContext is the authenticated caller of a request.
type UserContext struct {
	UserID string
	Role   string
}

// RoleAdmin is the role claim required by operator endpoints.
const RoleAdmin = "admin"

// IsOperator reports whether the caller may trigger ingestion and sync.
func (uc *UserContext) IsOperator() bool {
	return uc != nil && uc.Role == RoleAdmin
}

type contextKey int

const userContextKey contextKey = iota

// WithUserContext stores a UserContext in the request context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// UserContextFromContext retrieves the UserContext from context, or nil if absent.
func UserContextFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}
