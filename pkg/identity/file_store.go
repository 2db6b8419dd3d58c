package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidName is returned when an identity name contains unsafe characters.
var ErrInvalidName = errors.New("invalid identity name: contains path separator or traversal sequence")

// validateName checks that a string is safe to use as a path component.
func validateName(s string) error {
	if s == "" {
		return errors.New("identity name cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidName
	}
	return nil
}

// FileStore implements Store using one JSON file per identity.
// Storage layout:
//
//	~/.agentdial/identities/
//	  └── <name>.json
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-based identity store.
// If baseDir is empty, uses ~/.agentdial/identities.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentdial", "identities")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.baseDir, name+".json")
}

// Load retrieves an identity by name.
func (f *FileStore) Load(ctx context.Context, name string) (*Identity, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStoreClosed
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	return unmarshalIdentity(data)
}

// Save persists an identity under a name.
func (f *FileStore) Save(ctx context.Context, name string, id *Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStoreClosed
	}
	if err := validateName(name); err != nil {
		return err
	}

	data, err := id.marshal()
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	// Private key material: owner-only permissions.
	if err := os.WriteFile(f.path(name), data, 0600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

// Close marks the store closed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Store = (*FileStore)(nil)
