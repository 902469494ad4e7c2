// Package domain defines credential verification for API callers.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Identity is the authenticated caller resolved from a credential.
type Identity struct {
	UserID snowflake.ID
}

// Verifier resolves a bearer credential to a user identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

var ErrInvalidCredential = errors.New("invalid_credential")
