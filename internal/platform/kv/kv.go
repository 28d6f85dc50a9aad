// Package kv provides the durable key-value storage used to mirror workspace
// preference slices (filters, recently viewed lists, favorites, drafts).
// Values are opaque strings; callers own the encoding.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyKey       = errors.New("key must not be empty")
	ErrUnknownBackend = errors.New("unknown kv backend")
)

// Store is the contract every backend implements. Get reports a missing key
// with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendS3       = "s3"
)

// Key joins an owner and a domain name into a storage key.
func Key(owner, domain string) string {
	return owner + "/" + domain
}

// SplitKey is the inverse of Key. Owners may not contain '/', domains may.
func SplitKey(key string) (owner, domain string, err error) {
	owner, domain, found := strings.Cut(key, "/")
	if !found || owner == "" || domain == "" {
		return "", "", fmt.Errorf("malformed key %q", key)
	}
	return owner, domain, nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
