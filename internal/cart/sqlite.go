package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultSQLiteDSN is used when the configuration leaves CartDSN empty.
const DefaultSQLiteDSN = "file:shopmesh_cart.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLStore persists carts in SQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLStore opens dsn and creates the schema. Use ":memory:" in tests.
func OpenSQLStore(ctx context.Context, dsn string, now func() time.Time) (*SQLStore, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	if now == nil {
		now = time.Now
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cart database: %w", err)
	}
	// One connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLStore{db: db, now: now}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cart schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS carts (
		user_id INTEGER PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cart_items (
		user_id INTEGER NOT NULL REFERENCES carts(user_id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		price_cents INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (user_id, product_id)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Get(ctx context.Context, userID int64) (Cart, error) {
	return s.load(ctx, s.db, userID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) load(ctx context.Context, q queryer, userID int64) (Cart, error) {
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM carts WHERE user_id = ?`, userID,
	).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, fmt.Errorf("load cart %d: %w", userID, err)
	}

	c := Cart{
		UserID:    userID,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, price_cents, quantity
		FROM cart_items WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart %d items: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.PriceCents, &it.Quantity); err != nil {
			return Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}

func (s *SQLStore) AddItem(ctx context.Context, userID int64, item Item) (Cart, error) {
	if err := item.Validate(); err != nil {
		return Cart{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Cart{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO carts (user_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		userID, now, now); err != nil {
		return Cart{}, fmt.Errorf("upsert cart %d: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, product_name, price_cents, quantity, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM cart_items WHERE user_id = ?))
		ON CONFLICT(user_id, product_id) DO UPDATE SET
			quantity = quantity + excluded.quantity,
			price_cents = excluded.price_cents,
			product_name = CASE WHEN excluded.product_name = '' THEN product_name ELSE excluded.product_name END`,
		userID, item.ProductID, item.ProductName, item.PriceCents, item.Quantity, userID); err != nil {
		return Cart{}, fmt.Errorf("add item to cart %d: %w", userID, err)
	}

	c, err := s.load(ctx, tx, userID)
	if err != nil {
		return Cart{}, err
	}
	return c, tx.Commit()
}

func (s *SQLStore) RemoveItem(ctx context.Context, userID, productID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = ? AND product_id = ?`, userID, productID)
	if err != nil {
		return fmt.Errorf("remove item from cart %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return s.touch(ctx, s.db, userID)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM carts WHERE user_id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("clear cart %d: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear cart %d: %w", userID, err)
	}
	if err := s.touch(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) touch(ctx context.Context, e execer, userID int64) error {
	_, err := e.ExecContext(ctx, `UPDATE carts SET updated_at = ? WHERE user_id = ?`, s.now().UnixNano(), userID)
	return err
}

func (s *SQLStore) Close() error { return s.db.Close() }
