package secrets

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned by providers when the named secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// Provider defines a generic secrets manager interface.
// Concrete implementations (AWS, GCP, etc.) can satisfy this.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// PutSecret creates the secret, failing if it already exists.
	PutSecret(ctx context.Context, key string, value map[string]string) error

	// ListSecrets returns the names of all secrets whose name matches the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
