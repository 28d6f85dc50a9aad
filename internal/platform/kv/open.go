package kv

import (
	"context"
	"fmt"

	"github.com/ehr/workspace/internal/platform/db"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string
	FilePath    string
	SQLitePath  string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	S3          S3Config
}

// Migrator is implemented by backends that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(opts.FilePath)
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendPostgres:
		pool, err := db.NewPool(ctx, opts.DatabaseURL, opts.DBMaxConns, opts.DBMinConns)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool, true), nil
	case BackendS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
