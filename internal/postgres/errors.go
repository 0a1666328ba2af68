package postgres

import (
	"strings"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// classify wraps err with msg and marks it with the orders error taxonomy.
// write is false for read paths, which are never StorageWrite failures.
func classify(err error, write bool, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		wrapped = errors.Mark(wrapped, orders.ErrConnection)
	}
	if write {
		wrapped = errors.Mark(wrapped, orders.ErrStorageWrite)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		wrapped = errors.Mark(wrapped, orders.ErrConstraintViolation)
	}
	return wrapped
}
