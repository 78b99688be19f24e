package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const keyColumns = `id, name, key_value, is_active, usage_count, last_used, created_at, updated_at`

// MaxKeysPerPage bounds paginated key listings.
const MaxKeysPerPage = 100

func scanKey(scanner interface{ Scan(...any) error }) (*ApiKey, error) {
	var (
		key              ApiKey
		isActive         int
		lastUsed         sql.NullString
		created, updated string
	)
	err := scanner.Scan(&key.ID, &key.Name, &key.KeyValue, &isActive, &key.UsageCount, &lastUsed, &created, &updated)
	if err != nil {
		return nil, err
	}
	key.IsActive = isActive != 0
	if key.LastUsed, err = nullableTime(lastUsed); err != nil {
		return nil, fmt.Errorf("store: parse last_used: %w", err)
	}
	if key.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if key.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}
	return &key, nil
}

// CreateKey inserts a new active key with a fresh UUID and zero usage.
func (s *Store) CreateKey(ctx context.Context, name, keyValue string) (*ApiKey, error) {
	now := time.Now().Truncate(time.Millisecond).UTC()
	key := &ApiKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyValue:  keyValue,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_value, is_active, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, 1, 0, ?, ?)`,
		key.ID, key.Name, key.KeyValue, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("store: create key: %w", err)
	}
	return key, nil
}

// ListKeys returns every key ordered by creation time, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]*ApiKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectKeys(rows)
}

// ListKeysPage returns one page of keys (newest first) and the total count.
// page starts at 1; perPage is clamped to MaxKeysPerPage.
func (s *Store) ListKeysPage(ctx context.Context, page, perPage int) ([]*ApiKey, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxKeysPerPage {
		perPage = MaxKeysPerPage
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count keys: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list keys page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys, err := collectKeys(rows)
	if err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

// GetKey returns the key with the given id, or nil when absent.
func (s *Store) GetKey(ctx context.Context, id string) (*ApiKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = ?`, id)
	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get key: %w", err)
	}
	return key, nil
}

// UpdateKey applies a partial update and returns the post-update record, or
// nil when no key with that id exists.
func (s *Store) UpdateKey(ctx context.Context, id string, update KeyUpdate) (*ApiKey, error) {
	var sets []string
	var args []any
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		active := 0
		if *update.IsActive {
			active = 1
		}
		args = append(args, active)
	}
	if len(sets) == 0 {
		return s.GetKey(ctx, id)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: update key: %w", err)
	}
	return s.GetKey(ctx, id)
}

// DeleteKey removes a key; it reports whether a row was actually deleted.
func (s *Store) DeleteKey(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete key: %w", err)
	}
	return affected > 0, nil
}

// IncrementUsage bumps usage_count and stamps last_used. The single UPDATE
// statement makes concurrent increments additive; none are lost.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: increment usage: %w", err)
	}
	return nil
}

// ActiveKeysOrdered returns the active keys in rotation order: least used
// first, ties broken toward the key idle the longest, never-used keys ahead
// of everything.
func (s *Store) ActiveKeysOrdered(ctx context.Context) ([]*ApiKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys
		 WHERE is_active = 1
		 ORDER BY usage_count ASC, last_used ASC NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("store: active keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectKeys(rows)
}

// MarkKeyFailed permanently deactivates a key. The operation is idempotent;
// only an operator action through UpdateKey reactivates the key.
func (s *Store) MarkKeyFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: mark key failed: %w", err)
	}
	return nil
}

func collectKeys(rows *sql.Rows) ([]*ApiKey, error) {
	var keys []*ApiKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate keys: %w", err)
	}
	return keys, nil
}
