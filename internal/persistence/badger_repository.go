package persistence

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"binance-ai-trader-go/internal/models"
)

// badgerRepository is the BadgerDB implementation of SnapshotRepository.
type badgerRepository struct {
	db  *badger.DB
	key []byte
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:  db,
		key: []byte("trader_snapshot"), // single-snapshot store, one well-known key
	}, nil
}

// Save marshals the snapshot to JSON and writes it under the snapshot key.
func (r *badgerRepository) Save(snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, data)
	})
}

// Load reads the last persisted snapshot. A missing key is not an error:
// it returns (nil, nil) to signal a fresh start.
func (r *badgerRepository) Load() (*models.Snapshot, error) {
	var snap models.Snapshot

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("snapshot value is empty in database")
			}
			return json.Unmarshal(val, &snap)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
