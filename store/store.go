// Package store is the SQLite persistence layer for dommark: pages keyed
// by normalized document identity, each holding an insertion-ordered
// collection of anchors. The store exclusively owns persisted records;
// sessions only see them through a single restoration pass.
package store

import (
	"database/sql"

	"github.com/hazyhaar/dommark/dbopen"
)

// Store is the dommark database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the dommark SQLite database at path and applies
// pragmas and the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
