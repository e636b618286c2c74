package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the permission level attached to an API key.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

var (
	// ErrUnauthorized is returned when the api_key header is missing or does
	// not match an active key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the key is valid but lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrKeyNotFound is returned by Repository when no active key matches.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Role    Role
}

// IsAdmin reports whether the key may manage discount rules.
func (k *APIKeyInfo) IsAdmin() bool { return k.Role == RoleAdmin }

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated key.
func WithPrincipal(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, principalKey{}, k)
}

// PrincipalFrom returns the authenticated key stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(principalKey{}).(*APIKeyInfo)
	return k, ok && k != nil
}
