package auth

import (
	"context"
	"errors"
	"testing"
)

func TestIdentityFrom(t *testing.T) {
	if _, err := IdentityFrom(context.Background()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}

	claims := &Claims{UserID: "a1", Role: "agent"}
	id, err := IdentityFrom(WithIdentity(context.Background(), claims.Identity()))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id.UserID != "a1" || id.Role != "agent" {
		t.Fatalf("unexpected identity %+v", id)
	}

	// A token without a role cannot pass role checks.
	if _, err := IdentityFrom(WithIdentity(context.Background(), Identity{UserID: "a1"})); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity for missing role, got %v", err)
	}
}
