package sqlite

import (
	"github.com/admesh/admesh/internal/db"
	"github.com/admesh/admesh/internal/ports"
)

// Store is the SQLite-backed implementation of the storage ports.
type Store struct {
	db *db.Database
}

// New wraps an open database connection.
func New(database *db.Database) *Store {
	return &Store{db: database}
}

var _ ports.Store = (*Store)(nil)

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
