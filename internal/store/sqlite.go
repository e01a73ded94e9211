package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"voice_scribe_bot/internal/domain"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		charge_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_charge_id ON payments(charge_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
}

// SQLiteLedger keeps payments in a local SQLite file. The pool is limited to
// one connection so writes are serialized.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the ledger file at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
	}

	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// RecordPayment inserts the payment unless its charge id is already present.
func (l *SQLiteLedger) RecordPayment(ctx context.Context, userID int64, chargeID string, amount int64, currency string) error {
	if chargeID == "" {
		return errors.New("charge_id is required")
	}

	result, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payments (user_id, charge_id, amount, currency, timestamp) VALUES (?, ?, ?, ?, ?)`,
		userID, chargeID, amount, currency, l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if rows == 0 {
		return domain.ErrDuplicateCharge
	}
	return nil
}

// GetPayment returns the payment recorded for chargeID.
func (l *SQLiteLedger) GetPayment(ctx context.Context, chargeID string) (domain.Payment, error) {
	var p domain.Payment
	err := l.db.QueryRowContext(ctx,
		`SELECT id, user_id, charge_id, amount, currency, timestamp FROM payments WHERE charge_id = ?`,
		chargeID,
	).Scan(&p.ID, &p.UserID, &p.ChargeID, &p.Amount, &p.Currency, &p.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetUserBalance sums the user's recorded amounts.
func (l *SQLiteLedger) GetUserBalance(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE user_id = ?`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return total, nil
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Close(context.Context) error {
	return l.db.Close()
}
