package ports

import (
	"context"

	"filedrop/internal/domain"
)

// TransferEngine is the chunked peer-to-peer transfer capability. Adds return
// once the engine accepted the session; progress and outcomes arrive later on
// Alerts.
type TransferEngine interface {
	// CreateSeed builds a descriptor for the file at path and starts seeding it.
	CreateSeed(ctx context.Context, path string) (domain.TransferID, string, error)
	ParseDescriptor(descriptor string) (domain.TransferID, error)
	AddDownload(ctx context.Context, descriptor, saveDir string) (domain.TransferID, error)
	// Lookup reports whether the engine currently holds a native session.
	Lookup(id domain.TransferID) bool
	Status(id domain.TransferID) (domain.TransferStatus, error)
	Remove(ctx context.Context, id domain.TransferID) error
	// Alerts is closed by Close.
	Alerts() <-chan domain.Alert
	Close() error
}

// EngineFactory builds a fresh engine instance.
type EngineFactory func() (TransferEngine, error)
