package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Defaults seeded at migration time. Both are meant to be replaced by the
// operator on first use; the defaults only exist so a fresh install is
// reachable without editing the database by hand.
const (
	defaultAdminPassword = "admin123"
	defaultInboundSecret = "123456"
)

// Migrate creates the schema and applies additive column migrations. It is
// idempotent: existing tables are kept, ALTER TABLE errors for columns that
// already exist are ignored, and seed rows are only written when absent.
func (s *Store) Migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS app_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_value TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			api_key_id TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			request_body TEXT,
			response_body TEXT,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
	}

	// Additive migrations for databases created by earlier versions. SQLite
	// has no ADD COLUMN IF NOT EXISTS, so duplicate-column errors are the
	// expected signal that the migration already ran.
	alters := []string{
		`ALTER TABLE app_settings ADD COLUMN custom_auth_key TEXT`,
		`ALTER TABLE app_settings ADD COLUMN retry_count INTEGER`,
		`ALTER TABLE app_settings ADD COLUMN proxy_enabled INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE app_settings ADD COLUMN proxy_type TEXT`,
		`ALTER TABLE app_settings ADD COLUMN proxy_host TEXT`,
		`ALTER TABLE app_settings ADD COLUMN proxy_port INTEGER`,
		`ALTER TABLE app_settings ADD COLUMN proxy_username TEXT`,
		`ALTER TABLE app_settings ADD COLUMN proxy_password TEXT`,
		`ALTER TABLE request_logs ADD COLUMN request_body TEXT`,
		`ALTER TABLE request_logs ADD COLUMN response_body TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_api_key_id ON request_logs(api_key_id)`,
	}
	for _, stmt := range alters {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("store: migrate: %w", err)
		}
	}

	if err := s.seedSettings(ctx); err != nil {
		return err
	}
	return nil
}

// seedSettings initializes the singleton settings row and, as a setup hook
// outside the request hot path, a default inbound secret. The auth middleware
// itself always rejects when no secret is stored.
func (s *Store) seedSettings(ctx context.Context) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_settings`).Scan(&count); err != nil {
		return fmt.Errorf("store: count settings: %w", err)
	}

	if count == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("store: hash default password: %w", err)
		}
		now := formatTime(time.Now())
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO app_settings (id, password_hash, created_at, updated_at) VALUES (1, ?, ?, ?)`,
			string(hash), now, now)
		if err != nil {
			return fmt.Errorf("store: seed settings: %w", err)
		}
		log.Warn("seeded default admin password; change it before exposing the proxy")
	}

	hasSecret, err := s.HasAuthKey(ctx)
	if err != nil {
		return err
	}
	if !hasSecret {
		if err = s.SetAuthKey(ctx, defaultInboundSecret); err != nil {
			return err
		}
		log.Warn("seeded default inbound secret; change it before exposing the proxy")
	}
	return nil
}
