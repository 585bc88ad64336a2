// Package postgres implements the service stores on the platform's hosted
// Postgres: device tokens, notification preferences, in-app notifications and
// dispatch audit logs.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements the pkg/dispatch store contracts over one pgx pool.
// The pool serializes writes itself; the store holds no state of its own.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
