// Package datastore persists payout records.
package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// ErrNotFound is returned by UpdatePayout when no record has the given ID.
var ErrNotFound = errors.New("datastore: payout not found")

// DataProviderFactory hands out plain and transactional views of one store.
type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the payout store used by the share evaluator and the payout
// daemon. Implementations must tolerate unbounded concurrent callers.
type DataStore interface {
	PayoutReadProvider
	PayoutWriteProvider
}

type PayoutReadProvider interface {
	// FindPayouts returns up to limit records matching filter, oldest first.
	// A limit <= 0 returns every match.
	FindPayouts(ctx context.Context, limit int, filter model.PayoutFilter) ([]model.PayoutRecord, error)
}

type PayoutWriteProvider interface {
	// InsertPayout stores a new record and assigns its ID and CreatedAt.
	InsertPayout(ctx context.Context, rec *model.PayoutRecord) error
	// UpdatePayout overwrites the mutable fields of an existing record.
	UpdatePayout(ctx context.Context, rec *model.PayoutRecord) error
}

// Compile-time checks.
var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ DataProviderFactory = (*MemoryStore)(nil)
)
