package denylist

import (
	"context"
	"time"
)

// Store records revoked token ids (jti) until their natural expiry.
// Logout writes here; the auth middleware consults it before trusting a
// token that would otherwise still verify.
type Store interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Close() error
}
