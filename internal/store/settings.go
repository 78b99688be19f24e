package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultRetryCount applies when the settings row has no retry_count or the
// read fails.
const DefaultRetryCount = 3

// allowed egress proxy types; anything else is rejected by SetProxySettings.
var proxyTypes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"socks4": {},
	"socks5": {},
}

// HashSecret returns the lowercase SHA-256 hex digest of the secret's UTF-8
// bytes. Both the stored inbound secret and presented credentials go through
// this before comparison.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// RetryCount returns the configured upstream retry count, defaulting to
// DefaultRetryCount when unset.
func (s *Store) RetryCount(ctx context.Context) int {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM app_settings WHERE id = 1`).Scan(&v)
	if err != nil || !v.Valid || v.Int64 < 1 {
		return DefaultRetryCount
	}
	return int(v.Int64)
}

// SetRetryCount stores the upstream retry count. Values below 1 are clamped;
// there is no upper limit.
func (s *Store) SetRetryCount(ctx context.Context, retryCount int) error {
	if retryCount < 1 {
		retryCount = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_settings SET retry_count = ?, updated_at = ? WHERE id = 1`,
		retryCount, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set retry count: %w", err)
	}
	return nil
}

// AuthKeyHash returns the stored SHA-256 hex of the inbound shared secret.
// ok is false when no secret is set.
func (s *Store) AuthKeyHash(ctx context.Context) (hash string, ok bool, err error) {
	var v sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT custom_auth_key FROM app_settings WHERE id = 1`).Scan(&v)
	if err != nil {
		return "", false, fmt.Errorf("store: read auth key: %w", err)
	}
	if !v.Valid || v.String == "" {
		return "", false, nil
	}
	return v.String, true, nil
}

// HasAuthKey reports whether an inbound shared secret is configured.
func (s *Store) HasAuthKey(ctx context.Context) (bool, error) {
	_, ok, err := s.AuthKeyHash(ctx)
	return ok, err
}

// SetAuthKey hashes and stores the inbound shared secret.
func (s *Store) SetAuthKey(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_settings SET custom_auth_key = ?, updated_at = ? WHERE id = 1`,
		HashSecret(secret), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set auth key: %w", err)
	}
	return nil
}

// ClearAuthKey removes the inbound shared secret; all proxied requests are
// rejected until a new one is set.
func (s *Store) ClearAuthKey(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_settings SET custom_auth_key = NULL, updated_at = ? WHERE id = 1`,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: clear auth key: %w", err)
	}
	return nil
}

// PasswordHash returns the bcrypt hash of the admin password.
func (s *Store) PasswordHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM app_settings WHERE id = 1`).Scan(&hash)
	if err != nil {
		return "", fmt.Errorf("store: read password hash: %w", err)
	}
	return hash, nil
}

// SetPasswordHash stores a new bcrypt admin password hash.
func (s *Store) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_settings SET password_hash = ?, updated_at = ? WHERE id = 1`,
		hash, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set password hash: %w", err)
	}
	return nil
}

// ProxySettings returns the egress proxy block. A zero-value block with
// Enabled=false is returned when nothing is configured.
func (s *Store) ProxySettings(ctx context.Context) (*ProxySettings, error) {
	var (
		enabled                 sql.NullInt64
		ptype, host, user, pass sql.NullString
		port                    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT proxy_enabled, proxy_type, proxy_host, proxy_port, proxy_username, proxy_password
		 FROM app_settings WHERE id = 1`).
		Scan(&enabled, &ptype, &host, &port, &user, &pass)
	if err != nil {
		return nil, fmt.Errorf("store: read proxy settings: %w", err)
	}
	return &ProxySettings{
		Enabled:  enabled.Valid && enabled.Int64 != 0,
		Type:     ptype.String,
		Host:     host.String,
		Port:     int(port.Int64),
		Username: user.String,
		Password: pass.String,
	}, nil
}

// SetProxySettings stores the egress proxy block. The proxy type must be one
// of http, https, socks4, socks5 when the proxy is enabled.
func (s *Store) SetProxySettings(ctx context.Context, p *ProxySettings) error {
	if p.Enabled {
		if _, ok := proxyTypes[p.Type]; !ok {
			return fmt.Errorf("store: unsupported proxy type %q", p.Type)
		}
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE app_settings
		 SET proxy_enabled = ?, proxy_type = ?, proxy_host = ?, proxy_port = ?,
		     proxy_username = ?, proxy_password = ?, updated_at = ?
		 WHERE id = 1`,
		enabled, p.Type, p.Host, p.Port, p.Username, p.Password, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set proxy settings: %w", err)
	}
	return nil
}
