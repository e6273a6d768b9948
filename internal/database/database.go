package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = errors.New("record not found")

// StoreError wraps any persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// timestamps are stored as fixed width UTC text so that they sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %q", s)
	}
	return t, nil
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	// a single connection serialises writers, sqlite would otherwise report SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("Database initialized at %s", dbPath)
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		amount REAL NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_symbol ON assets(symbol);

	CREATE TABLE IF NOT EXISTS price_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		target_price REAL NOT NULL,
		condition TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		triggered_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_price_alerts_status ON price_alerts(status);

	CREATE TABLE IF NOT EXISTS portfolio_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		total_value_usd REAL NOT NULL,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_portfolio_history_timestamp ON portfolio_history(timestamp);

	CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT PRIMARY KEY,
		metric_value REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS labelled_metrics (
		metric_name TEXT NOT NULL,
		labels TEXT NOT NULL,
		metric_value REAL NOT NULL,
		PRIMARY KEY (metric_name, labels)
	);`

	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping is used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func affectedOne(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
