// Package scope propagates the acting user's identity through context so
// stores, hooks and notifications can attribute work without threading a
// user argument through every call.
package scope

import "context"

type contextKey struct{}

var userKey contextKey

// User identifies the acting user.
type User struct {
	ID    string
	Email string
}

// WithUser attaches a user identity to the context.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom extracts the user identity, if any.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

// UserID returns the acting user's ID, or "" when unset.
func UserID(ctx context.Context) string {
	u, _ := UserFrom(ctx)
	return u.ID
}
