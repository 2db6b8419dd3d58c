package identity

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for identity storage.
var (
	// ErrIdentityNotFound is returned when no identity exists under a name.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("identity store is closed")
)

// Store abstracts durable identity persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves an identity by name.
	// Returns ErrIdentityNotFound if no identity exists under that name.
	Load(ctx context.Context, name string) (*Identity, error)

	// Save persists an identity under a name, overwriting any existing one.
	Save(ctx context.Context, name string, id *Identity) error

	// Close releases any resources held by the store.
	Close() error
}

// LoadOrGenerate returns the identity stored under name, generating and
// persisting a fresh one if none exists yet. This is the lazy first-need
// path used by the turn controller.
func LoadOrGenerate(ctx context.Context, store Store, name string) (*Identity, error) {
	id, err := store.Load(ctx, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, fmt.Errorf("load identity %q: %w", name, err)
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, name, id); err != nil {
		return nil, fmt.Errorf("save identity %q: %w", name, err)
	}
	return id, nil
}
