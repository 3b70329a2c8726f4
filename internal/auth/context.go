package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity means the request never passed RequireAccessToken.
var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller of a request. For agents UserID is the agent id
// on campaign rosters, so agent routes compare it with the path.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Identity returns the caller carried by verified claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller, or ErrNoIdentity when either field is empty.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" || id.Role == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}
