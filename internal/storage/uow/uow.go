// Package uow runs multi-store writes as one transaction.
package uow

import (
	"context"

	"github.com/bobuk/calblock/internal/storage"
	"github.com/bobuk/calblock/internal/storage/blocking"
	"github.com/bobuk/calblock/internal/storage/events"
)

// Stores are bound to the transaction they were handed out for.
type Stores struct {
	Events   events.Store
	Blocking blocking.Store
}

// Transactor runs fn with stores that share one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// SQLTransactor is a Transactor over a SQLite database.
type SQLTransactor struct {
	db storage.SQLDB
}

var _ Transactor = (*SQLTransactor)(nil)

func NewSQLTransactor(db storage.SQLDB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

func (t *SQLTransactor) WithinTx(ctx context.Context, fn func(Stores) error) error {
	return storage.WithTx(ctx, t.db, func(q storage.Querier) error {
		return fn(Stores{
			Events:   events.NewSQLiteStore(q),
			Blocking: blocking.NewSQLiteStore(q),
		})
	})
}
