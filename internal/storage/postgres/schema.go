package postgres

import "context"

// schema is the DDL for the ledger core. Index choices follow the access
// paths: delta replay and audit scan transactions by (owner, account,
// date) and (owner, to_account, date); budget recompute scans by owner
// and window.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	balance     NUMERIC(20,4) NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL,
	is_default  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts (owner_id);

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL,
	amount           NUMERIC(20,4) NOT NULL,
	currency         TEXT NOT NULL,
	account_id       TEXT NOT NULL REFERENCES accounts(id),
	to_account_id    TEXT REFERENCES accounts(id),
	category_id      TEXT,
	transaction_date TIMESTAMPTZ NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	transfer_fee     NUMERIC(20,4) NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_owner_account_date
	ON transactions (owner_id, account_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_transactions_owner_to_account_date
	ON transactions (owner_id, to_account_id, transaction_date);

CREATE TABLE IF NOT EXISTS budgets (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	amount           NUMERIC(20,4) NOT NULL,
	category_id      TEXT,
	start_date       TIMESTAMPTZ NOT NULL,
	end_date         TIMESTAMPTZ NOT NULL,
	spent_amount     NUMERIC(20,4) NOT NULL DEFAULT 0,
	remaining_amount NUMERIC(20,4) NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_budgets_owner_dates
	ON budgets (owner_id, start_date, end_date);

CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_categories_owner ON categories (owner_id);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
