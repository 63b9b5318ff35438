package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultQuery selects user_name, password, store_ip for one store
const DefaultQuery = `SELECT user_name, password, store_ip FROM store_rtsp WHERE store_id = ?`

// SQLProvider resolves credentials with a single-row query. The query must
// take the store id as its only argument and return user name, password and
// host in that order.
type SQLProvider struct {
	db    *sql.DB
	query string
}

// NewSQLProvider opens a database/sql handle with the given driver
func NewSQLProvider(driver, dsn, query string) (*SQLProvider, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if query == "" {
		query = DefaultQuery
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	return &SQLProvider{db: db, query: query}, nil
}

// EnsureSchema creates the default store_rtsp table when it does not exist
func (p *SQLProvider) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS store_rtsp (
			store_id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL,
			password TEXT NOT NULL,
			store_ip TEXT NOT NULL
		)
	`)
	return err
}

// put inserts or replaces the credentials of a store in the default table
func (p *SQLProvider) put(ctx context.Context, storeID string, creds Credentials) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO store_rtsp (store_id, user_name, password, store_ip) VALUES (?, ?, ?, ?)",
		storeID, creds.Username, creds.Password, creds.Host,
	)
	return err
}

// Lookup implements Provider
func (p *SQLProvider) Lookup(ctx context.Context, storeID string) (Credentials, error) {
	var creds Credentials
	err := p.db.QueryRowContext(ctx, p.query, storeID).Scan(&creds.Username, &creds.Password, &creds.Host)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, fmt.Errorf("store %s: %w", storeID, ErrNotFound)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("credentials query for store %s: %w", storeID, err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("store %s: %w", storeID, err)
	}
	return creds, nil
}

// Close releases the database handle
func (p *SQLProvider) Close() error {
	return p.db.Close()
}
