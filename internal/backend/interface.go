package backend

import (
	"context"

	"colletta/internal/ledger"
	"colletta/internal/storage"
)

// CleanupFunc releases resources held by a backend
type CleanupFunc func() error

// BackendResult contains the created store and optional cleanup function.
// Repository is non-nil only for the sqlite backend; workers use it to
// reach the transfer queue directly.
type BackendResult struct {
	Store      ledger.Store
	Repository *storage.SQLiteRepository
	Cleanup    CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
