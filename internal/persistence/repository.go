package persistence

import "binance-ai-trader-go/internal/models"

// SnapshotRepository defines the interface for snapshot persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type SnapshotRepository interface {
	// Save atomically persists the full state snapshot.
	Save(snap *models.Snapshot) error

	// Load loads the last persisted snapshot.
	// If no snapshot is found, it returns (nil, nil).
	Load() (*models.Snapshot, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
