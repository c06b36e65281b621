package repos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One writer at a time; also keeps a ":memory:" database on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	stmts := sqliteSchema
	if db.DriverName() == "mysql" {
		stmts = mysqlSchema
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,

	`CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  risk_state TEXT NOT NULL DEFAULT 'not_reviewed'
    CHECK (risk_state IN ('not_reviewed','compliant','flagged','suspended')),
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email))`,

	`CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_seen DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,

	`CREATE TABLE IF NOT EXISTS products(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  unique_permalink TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  native_type TEXT NOT NULL DEFAULT 'digital',
  price TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT 'usd',
  is_duplicating INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_products_user_created ON products(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS product_files(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  external_id TEXT NOT NULL UNIQUE,
  url TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_product_files_product ON product_files(product_id)`,

	`CREATE TABLE IF NOT EXISTS subtitle_files(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_file_id INTEGER NOT NULL REFERENCES product_files(id) ON DELETE CASCADE,
  url TEXT NOT NULL,
  language TEXT NOT NULL DEFAULT 'English'
)`,
	`CREATE INDEX IF NOT EXISTS idx_subtitle_files_file ON subtitle_files(product_file_id)`,

	`CREATE TABLE IF NOT EXISTS preorder_links(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL UNIQUE REFERENCES products(id) ON DELETE CASCADE,
  release_at DATETIME NOT NULL,
  url TEXT NOT NULL DEFAULT ''
)`,

	// source_product_id has no foreign key: job rows outlive deleted products for audit.
	`CREATE TABLE IF NOT EXISTS duplication_jobs(
  id TEXT PRIMARY KEY,
  source_product_id INTEGER NOT NULL,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('queued','running','succeeded','failed')),
  result_product_id INTEGER NULL REFERENCES products(id) ON DELETE SET NULL,
  error TEXT NULL,
  started_at DATETIME NOT NULL,
  completed_at DATETIME NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_duplication_jobs_source ON duplication_jobs(source_product_id, started_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users(
  id VARCHAR(64) PRIMARY KEY,
  email VARCHAR(255) NOT NULL UNIQUE,
  name VARCHAR(255) NOT NULL,
  password_hash VARCHAR(255) NOT NULL,
  risk_state VARCHAR(20) NOT NULL DEFAULT 'not_reviewed',
  created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6)
)`,
	`CREATE TABLE IF NOT EXISTS sessions(
  id VARCHAR(64) PRIMARY KEY,
  user_id VARCHAR(64) NULL,
  created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
  last_seen DATETIME(6) NULL,
  INDEX idx_sessions_user (user_id),
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE SET NULL
)`,
	`CREATE TABLE IF NOT EXISTS products(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  user_id VARCHAR(64) NOT NULL,
  unique_permalink VARCHAR(191) NOT NULL UNIQUE,
  name VARCHAR(255) NOT NULL,
  description TEXT NOT NULL,
  native_type VARCHAR(32) NOT NULL DEFAULT 'digital',
  price DECIMAL(12,2) NOT NULL DEFAULT 0,
  currency VARCHAR(8) NOT NULL DEFAULT 'usd',
  is_duplicating TINYINT(1) NOT NULL DEFAULT 0,
  created_at DATETIME(6) NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  INDEX idx_products_user_created (user_id, created_at),
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS product_files(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  product_id BIGINT NOT NULL,
  external_id VARCHAR(64) NOT NULL UNIQUE,
  url VARCHAR(1024) NOT NULL,
  display_name VARCHAR(255) NOT NULL DEFAULT '',
  position INT NOT NULL DEFAULT 0,
  INDEX idx_product_files_product (product_id),
  FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS subtitle_files(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  product_file_id BIGINT NOT NULL,
  url VARCHAR(1024) NOT NULL,
  language VARCHAR(64) NOT NULL DEFAULT 'English',
  INDEX idx_subtitle_files_file (product_file_id),
  FOREIGN KEY (product_file_id) REFERENCES product_files(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS preorder_links(
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  product_id BIGINT NOT NULL UNIQUE,
  release_at DATETIME(6) NOT NULL,
  url VARCHAR(1024) NOT NULL DEFAULT '',
  FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS duplication_jobs(
  id VARCHAR(64) PRIMARY KEY,
  source_product_id BIGINT NOT NULL,
  user_id VARCHAR(64) NOT NULL,
  status VARCHAR(20) NOT NULL,
  result_product_id BIGINT NULL,
  error TEXT NULL,
  started_at DATETIME(6) NOT NULL,
  completed_at DATETIME(6) NULL,
  INDEX idx_duplication_jobs_source (source_product_id, started_at),
  FOREIGN KEY (result_product_id) REFERENCES products(id) ON DELETE SET NULL
)`,
}

// dbTime normalizes timestamps before they are written: UTC, microsecond
// precision, no monotonic reading. Stored values then compare correctly as text.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func isUniqueViolation(err error) bool {
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
