// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestFromContext_Present(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{UserID: "alice"})

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext() = nil, want AuthContext")
	}
	if got.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", got.UserID, "alice")
	}
	if UserID(ctx) != "alice" {
		t.Errorf("UserID(ctx) = %q, want %q", UserID(ctx), "alice")
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
	if got := UserID(context.Background()); got != "" {
		t.Errorf("UserID() = %q, want empty", got)
	}
}
