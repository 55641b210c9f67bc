// Package store is the typed adapter over the external relational
// datastore. All SQL lives here; protocol logic never embeds queries.
package store

import (
	"github.com/signet-id/signet/internal/database"
)

// Store provides typed access to users, applications, authorization codes,
// refresh tokens and webhook subscriptions.
type Store struct {
	DB *database.Database
}

func New(db *database.Database) *Store {
	return &Store{DB: db}
}
