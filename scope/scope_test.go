package scope_test

import (
	"context"
	"testing"

	"github.com/robertor4/transcribe-sub002/scope"
)

func TestWithUserRoundTrip(t *testing.T) {
	ctx := scope.WithUser(context.Background(), scope.User{ID: "user-1", Email: "a@example.com"})
	u, ok := scope.UserFrom(ctx)
	if !ok {
		t.Fatal("user not found in context")
	}
	if u.ID != "user-1" || u.Email != "a@example.com" {
		t.Fatalf("user = %+v", u)
	}
}

func TestUserIDEmptyWhenUnset(t *testing.T) {
	if got := scope.UserID(context.Background()); got != "" {
		t.Fatalf("UserID = %q, want empty", got)
	}
}
