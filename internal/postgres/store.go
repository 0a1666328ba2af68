package postgres

import (
	"context"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OrderStore is the Postgres orders.Store.
type OrderStore struct{ DB *pgxpool.Pool }

func (s *OrderStore) Insert(ctx context.Context, o orders.NewOrder) (int64, error) {
	var id int64
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO orders (name, qty, book_category, book_title, price, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			o.Name, o.Quantity, o.Item.Category(), o.Item.Title(),
			o.Item.UnitPrice().String(), o.Note, o.CreatedAt,
		).Scan(&id)
	})
	if err != nil {
		return 0, classify(err, true, "insert order")
	}
	return id, nil
}

// List reads newest first. Nullable columns and unparsable prices are
// coerced so callers can always compute amounts.
func (s *OrderStore) List(ctx context.Context, limit int) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, qty, book_category, book_title, price::text, note, created_at
		FROM orders ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err, false, "query orders")
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		var (
			o                     orders.Order
			qty                   *int
			category, title, note *string
			price                 *string
		)
		if err := rows.Scan(&o.ID, &o.Name, &qty, &category, &title, &price, &note, &o.CreatedAt); err != nil {
			return nil, classify(err, false, "scan order")
		}
		if qty != nil {
			o.Quantity = *qty
		}
		o.BookCategory = orPlaceholder(category)
		o.BookTitle = orPlaceholder(title)
		o.UnitPrice = parsePrice(price)
		if note != nil {
			o.Note = *note
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, false, "iterate orders")
	}
	return out, nil
}

func (s *OrderStore) UpdateQuantity(ctx context.Context, id int64, qty int) (bool, error) {
	var found bool
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE orders SET qty = $2 WHERE id = $1`, id, qty)
		found = tag.RowsAffected() > 0
		return err
	})
	if err != nil {
		return false, classify(err, true, "update quantity")
	}
	return found, nil
}

func (s *OrderStore) Delete(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := pgx.BeginTxFunc(ctx, s.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
		found = tag.RowsAffected() > 0
		return err
	})
	if err != nil {
		return false, classify(err, true, "delete order")
	}
	return found, nil
}

// BatchApply runs all updates, then one set-membership delete. Any failure
// rolls the whole batch back.
func (s *OrderStore) BatchApply(ctx context.Context, b orders.Batch) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err, true, "begin batch")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range b.Updates {
		if _, err := tx.Exec(ctx, `UPDATE orders SET qty = $2 WHERE id = $1`, u.ID, u.Quantity); err != nil {
			return classify(err, true, "batch update quantity")
		}
	}
	if len(b.Deletes) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = ANY($1)`, b.Deletes); err != nil {
			return classify(err, true, "batch delete")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, true, "commit batch")
	}
	return nil
}

func orPlaceholder(s *string) string {
	if s == nil {
		return orders.Placeholder
	}
	return *s
}

func parsePrice(s *string) decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(*s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
