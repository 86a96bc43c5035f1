package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout keeps concurrent writers queued instead of failing
	// immediately with SQLITE_BUSY.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS classes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            provider_id INTEGER NOT NULL,
            provider_name TEXT NOT NULL,
            name TEXT NOT NULL,
            price_cents INTEGER NOT NULL,
            sibling_price_cents INTEGER NOT NULL DEFAULT 0,
            adults_free BOOLEAN NOT NULL DEFAULT 0,
            adults_pay_same BOOLEAN NOT NULL DEFAULT 0,
            adult_price_cents INTEGER NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT 'USD',
            max_capacity INTEGER NOT NULL,
            current_enrollment INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'draft',
            schedule TEXT NOT NULL DEFAULT '[]',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (current_enrollment >= 0),
            CHECK (current_enrollment <= max_capacity)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            number TEXT UNIQUE NOT NULL,
            class_id INTEGER NOT NULL,
            class_name TEXT NOT NULL,
            provider_name TEXT NOT NULL,
            parent_id INTEGER NOT NULL,
            parent_name TEXT NOT NULL,
            children TEXT NOT NULL DEFAULT '[]',
            session_start DATETIME NOT NULL,
            session_end DATETIME NOT NULL,
            num_children INTEGER NOT NULL,
            sibling_pairs INTEGER NOT NULL DEFAULT 0,
            num_adults INTEGER NOT NULL DEFAULT 0,
            base_price_cents INTEGER NOT NULL,
            sibling_discount_cents INTEGER NOT NULL DEFAULT 0,
            adult_price_cents INTEGER NOT NULL DEFAULT 0,
            service_fee_cents INTEGER NOT NULL,
            total_cents INTEGER NOT NULL,
            currency TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            payment_ref TEXT NOT NULL DEFAULT '',
            payment_date DATETIME,
            funds_release_date DATETIME,
            funds_released BOOLEAN NOT NULL DEFAULT 0,
            funds_released_at DATETIME,
            cancel_reason TEXT NOT NULL DEFAULT '',
            cancelled_at DATETIME,
            refund_cents INTEGER NOT NULL DEFAULT 0,
            class_completed_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// Per-day booking number counter, incremented inside the
		// booking-create transaction.
		`CREATE TABLE IF NOT EXISTS day_sequences (
            day TEXT PRIMARY KEY,
            counter INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_class_id ON bookings(class_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_parent_id ON bookings(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_payment ON bookings(payment_status, funds_released, funds_release_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_session_end ON bookings(session_end)`,
		`CREATE INDEX IF NOT EXISTS idx_classes_status ON classes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
