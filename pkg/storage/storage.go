// Package storage provides a database abstraction layer supporting SQLite and PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver represents a database driver type.
type Driver string

const (
	SQLite   Driver = "sqlite"
	Postgres Driver = "postgres"
)

// TimeLayout is the layout every timestamp column is written with. It sorts
// lexically in both engines, which the date range filters rely on.
const TimeLayout = "2006-01-02 15:04:05"

// sqliteParams are appended to SQLite DSNs that do not set them already.
// _txlock=immediate makes writers queue on busy_timeout instead of failing
// with SQLITE_BUSY when a read transaction tries to upgrade.
var sqliteParams = []struct{ key, param string }{
	{"journal_mode", "_pragma=journal_mode(WAL)"},
	{"busy_timeout", "_pragma=busy_timeout(10000)"},
	{"foreign_keys", "_pragma=foreign_keys(1)"},
	{"_txlock", "_txlock=immediate"},
}

// Config holds database configuration.
type Config struct {
	Driver Driver `yaml:"driver" json:"driver" env:"DB_DRIVER"`
	DSN    string `yaml:"dsn" json:"dsn" env:"DB_DSN"` // Data Source Name
}

// DB wraps a *sql.DB with additional utilities.
type DB struct {
	*sql.DB
	driver Driver
	logger *slog.Logger
}

// Open creates a new database connection.
func Open(cfg Config) (*DB, error) {
	dsn := cfg.DSN
	var driverName string
	switch cfg.Driver {
	case SQLite, "":
		cfg.Driver = SQLite
		driverName = "sqlite"
		dsn = sqliteDSN(dsn)
	case Postgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		DB:     db,
		driver: cfg.Driver,
		logger: slog.Default(),
	}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "newsdesk.db"
	}
	var missing []string
	for _, p := range sqliteParams {
		if !strings.Contains(dsn, p.key) {
			missing = append(missing, p.param)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

// DriverType returns the database driver type.
func (db *DB) DriverType() Driver {
	return db.driver
}

// IDColumn returns the auto-increment primary key column definition.
func (db *DB) IDColumn() string {
	if db.driver == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Rebind rewrites a query written with ? placeholders for the connected driver.
func (db *DB) Rebind(q string) string {
	return Rebind(db.driver, q)
}

// Migrate runs the given SQL schema on the database.
func (db *DB) Migrate(ctx context.Context, schema string) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db.logger.Info("database migration completed", "driver", db.driver)
	return nil
}

// Transaction wraps a function in a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a timestamp column written with FormatTime. Drivers that
// hand back time.Time values are accepted as well.
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.ParseInLocation(TimeLayout, t, time.UTC)
	case []byte:
		return time.ParseInLocation(TimeLayout, string(t), time.UTC)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}
