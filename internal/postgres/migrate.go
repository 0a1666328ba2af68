package postgres

import (
	"context"
	"log/slog"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one schema step. Steps run in Version order and each is
// recorded in schema_migrations once applied.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx pgx.Tx) error
}

// schemaLockID serializes EnsureSchema across processes starting at once.
const schemaLockID int64 = 7_310_221

// OrderMigrations is the full history of the orders table.
var OrderMigrations = []Migration{
	{Version: 1, Name: "create_orders", Apply: createOrders},
	{Version: 2, Name: "add_book_and_price", Apply: addBookAndPrice},
	{Version: 3, Name: "add_note", Apply: addNote},
}

func createOrders(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			qty INTEGER NOT NULL CHECK (qty > 0),
			created_at TIMESTAMP NOT NULL
		)`)
	return err
}

func addBookAndPrice(ctx context.Context, tx pgx.Tx) error {
	cols := []struct{ name, typ string }{
		{"book_category", "TEXT"},
		{"book_title", "TEXT"},
		{"price", "NUMERIC(10,2)"},
	}
	for _, c := range cols {
		if err := addColumn(ctx, tx, "orders", c.name, c.typ); err != nil {
			return err
		}
	}
	// Rows written before these columns existed must not surface nulls.
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET
			book_category = COALESCE(book_category, $1),
			book_title    = COALESCE(book_title, $1),
			price         = COALESCE(price, 0)
		WHERE book_category IS NULL OR book_title IS NULL OR price IS NULL`, orders.Placeholder); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		ALTER TABLE orders
			ALTER COLUMN book_category SET DEFAULT '`+orders.Placeholder+`',
			ALTER COLUMN book_title SET DEFAULT '`+orders.Placeholder+`',
			ALTER COLUMN price SET DEFAULT 0`)
	return err
}

func addNote(ctx context.Context, tx pgx.Tx) error {
	if err := addColumn(ctx, tx, "orders", "note", "TEXT"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET note = '' WHERE note IS NULL`); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `ALTER TABLE orders ALTER COLUMN note SET DEFAULT ''`)
	return err
}

// addColumn adds the column unless a table created by an older release
// already has it.
func addColumn(ctx context.Context, tx pgx.Tx, table, column, typ string) error {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = tx.Exec(ctx, `ALTER TABLE `+pgx.Identifier{table}.Sanitize()+
		` ADD COLUMN `+pgx.Identifier{column}.Sanitize()+` `+typ)
	return err
}

// EnsureSchema brings the orders table up to date. It is safe to call on
// every start: everything runs in one transaction and applied steps are skipped.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, l *slog.Logger) error {
	return RunMigrations(ctx, pool, l, OrderMigrations)
}

func RunMigrations(ctx context.Context, pool *pgxpool.Pool, l *slog.Logger, steps []Migration) error {
	if err := checkOrder(steps); err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err, false, "begin schema transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return classify(err, false, "acquire schema lock")
	}
	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return classify(err, false, "create schema_migrations")
	}

	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return classify(err, false, "read schema_migrations")
	}

	for _, m := range steps {
		if applied[m.Version] {
			continue
		}
		if err := m.Apply(ctx, tx); err != nil {
			return classify(err, false, "apply migration "+m.Name)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return classify(err, false, "record migration "+m.Name)
		}
		l.Info("schema migration applied",
			slog.Int("version", m.Version),
			slog.String("name", m.Name))
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err, false, "commit schema transaction")
	}
	return nil
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[int]bool, error) {
	rows, err := tx.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func checkOrder(steps []Migration) error {
	for i := 1; i < len(steps); i++ {
		if steps[i].Version <= steps[i-1].Version {
			return errors.Newf("migration %q (version %d) is out of order", steps[i].Name, steps[i].Version)
		}
	}
	return nil
}
