package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// migrations are applied in order inside one transaction. Every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('buyer', 'seller', 'admin')),
		company_name TEXT,
		company_description TEXT,
		is_blocked BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS balances (
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		method TEXT NOT NULL CHECK (method IN ('card', 'mobileMoneyA', 'mobileMoneyB')),
		amount NUMERIC NOT NULL CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, method)
	)`,
	// owner_id carries no foreign key: a listing may outlive its seller
	`CREATE TABLE IF NOT EXISTS products (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		price NUMERIC NOT NULL CHECK (price >= 0),
		stock INTEGER NOT NULL CHECK (stock >= 0),
		category TEXT NOT NULL,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		buyer_id UUID NOT NULL,
		product_id UUID NOT NULL,
		seller_id UUID NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price NUMERIC NOT NULL,
		subtotal NUMERIC NOT NULL,
		fee NUMERIC NOT NULL,
		total NUMERIC NOT NULL CHECK (total = subtotal + fee),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('card', 'mobileMoneyA', 'mobileMoneyB')),
		delivery_contact TEXT NOT NULL,
		payment_status TEXT NOT NULL CHECK (payment_status IN ('succeeded', 'failed')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_buyer_idx ON transactions (buyer_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_seller_idx ON transactions (seller_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_created_idx ON transactions (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS products_created_idx ON products (created_at DESC)`,
}

// Migrate creates the marketplace schema
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	log.Printf("[DB] Schema up to date (%d statements)", len(migrations))
	return nil
}
