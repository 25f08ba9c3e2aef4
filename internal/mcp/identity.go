package mcp

import "context"

// Identity names the caller of a tool for usage records.
type Identity struct {
	SessionID string
	UserID    string
}

type identityKey struct{}

// WithIdentity attaches id to ctx. Empty fields fall back to the values already on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	prev := IdentityFrom(ctx)
	if id.SessionID == "" {
		id.SessionID = prev.SessionID
	}
	if id.UserID == "" {
		id.UserID = prev.UserID
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored on ctx, if any.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
