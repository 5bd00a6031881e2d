// Package tx threads a database transaction through context so stores can
// join an enclosing unit of work, such as a decision submission, without
// carrying an explicit handle parameter.
package tx

import (
	"context"
	"database/sql"
)

// key is unexported; only this package can place or read the transaction.
type key struct{}

// WithTx returns a context carrying the transaction. A nil transaction
// leaves the context untouched.
func WithTx(ctx context.Context, transaction *sql.Tx) context.Context {
	if transaction == nil {
		return ctx
	}
	return context.WithValue(ctx, key{}, transaction)
}

// From reports the transaction carried by ctx, if any. Stores fall back to
// their pooled connection when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	transaction, ok := ctx.Value(key{}).(*sql.Tx)
	return transaction, ok
}
