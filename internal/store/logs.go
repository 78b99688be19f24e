package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// statsZone fixes the "today" boundary for usage statistics: the interval
// since the most recent 15:00 China Standard Time (UTC+8) wall-clock boundary.
var statsZone = time.FixedZone("UTC+8", 8*60*60)

const statsBoundaryHour = 15

// MaxLogsPerPage bounds paginated log listings.
const MaxLogsPerPage = 200

// InsertLog appends one audit row. Rows are append-only; nothing updates them
// afterwards.
func (s *Store) InsertLog(ctx context.Context, entry *RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (id, api_key_id, method, path, status_code, response_time_ms, request_body, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.APIKeyID, entry.Method, entry.Path, entry.StatusCode,
		entry.ResponseTimeMs, entry.RequestBody, entry.ResponseBody, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert log: %w", err)
	}
	return nil
}

// CountLogs returns the number of audit rows.
func (s *Store) CountLogs(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: count logs: %w", err)
	}
	return total, nil
}

// CountLogsForKey returns the number of audit rows tied to the given key.
func (s *Store) CountLogsForKey(ctx context.Context, apiKeyID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE api_key_id = ?`, apiKeyID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: count logs for key: %w", err)
	}
	return total, nil
}

// ListLogsPage returns one page of audit rows (newest first) joined with the
// key name, plus the total row count. Rows without a key (auth rejections)
// carry an empty name.
func (s *Store) ListLogsPage(ctx context.Context, page, perPage int) ([]*RequestLogEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxLogsPerPage {
		perPage = MaxLogsPerPage
	}

	total, err := s.CountLogs(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rl.id, COALESCE(ak.name, ''), rl.method, rl.path, rl.status_code, rl.response_time_ms, rl.created_at
		 FROM request_logs rl
		 LEFT JOIN api_keys ak ON rl.api_key_id = ak.id
		 ORDER BY rl.created_at DESC
		 LIMIT ? OFFSET ?`,
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*RequestLogEntry
	for rows.Next() {
		var entry RequestLogEntry
		var created string
		err = rows.Scan(&entry.ID, &entry.APIKeyName, &entry.Method, &entry.Path,
			&entry.StatusCode, &entry.ResponseTimeMs, &created)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan log: %w", err)
		}
		if entry.CreatedAt, err = parseTime(created); err != nil {
			return nil, 0, fmt.Errorf("store: parse log created_at: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate logs: %w", err)
	}
	return entries, total, nil
}

// GetLog returns a single audit row with its captured bodies, or nil.
func (s *Store) GetLog(ctx context.Context, id string) (*RequestLog, error) {
	var (
		entry     RequestLog
		reqBody   sql.NullString
		respBody  sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_key_id, method, path, status_code, response_time_ms, request_body, response_body, created_at
		 FROM request_logs WHERE id = ?`, id).
		Scan(&entry.ID, &entry.APIKeyID, &entry.Method, &entry.Path, &entry.StatusCode,
			&entry.ResponseTimeMs, &reqBody, &respBody, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get log: %w", err)
	}
	entry.RequestBody = nullableString(reqBody)
	entry.ResponseBody = nullableString(respBody)
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("store: parse log created_at: %w", err)
	}
	return &entry, nil
}

// statsBoundary returns the most recent 15:00 UTC+8 boundary at or before now.
func statsBoundary(now time.Time) time.Time {
	local := now.In(statsZone)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), statsBoundaryHour, 0, 0, 0, statsZone)
	if local.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// UsageStats aggregates the audit trail and key counters.
func (s *Store) UsageStats(ctx context.Context, now time.Time) (*UsageStats, error) {
	stats := &UsageStats{TodayRequestsPerKey: []KeyTodayCount{}}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(response_time_ms) FROM request_logs`).
		Scan(&stats.TotalRequests, &avg)
	if err != nil {
		return nil, fmt.Errorf("store: usage stats: %w", err)
	}
	stats.AvgResponseTimeMs = avg.Float64

	var totalUsage sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT SUM(usage_count) FROM api_keys`).Scan(&totalUsage)
	if err != nil {
		return nil, fmt.Errorf("store: usage stats: %w", err)
	}
	stats.TotalUsage = totalUsage.Int64

	since := formatTime(statsBoundary(now))

	var todayAvg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(response_time_ms) FROM request_logs WHERE created_at >= ?`, since).
		Scan(&stats.TodayRequests, &todayAvg)
	if err != nil {
		return nil, fmt.Errorf("store: usage stats: %w", err)
	}
	stats.TodayAvgResponseMs = todayAvg.Float64

	rows, err := s.db.QueryContext(ctx,
		`SELECT rl.api_key_id, COALESCE(ak.name, ''), COUNT(*)
		 FROM request_logs rl
		 LEFT JOIN api_keys ak ON rl.api_key_id = ak.id
		 WHERE rl.created_at >= ? AND rl.api_key_id != ''
		 GROUP BY rl.api_key_id
		 ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("store: usage stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var count KeyTodayCount
		if err = rows.Scan(&count.APIKeyID, &count.APIKeyName, &count.Requests); err != nil {
			return nil, fmt.Errorf("store: scan key count: %w", err)
		}
		stats.TodayRequestsPerKey = append(stats.TodayRequestsPerKey, count)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: usage stats: %w", err)
	}
	return stats, nil
}

// PruneLogsBefore removes audit rows created before the cutoff and returns
// how many were deleted. Append semantics for live rows are unaffected.
func (s *Store) PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM request_logs WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: prune logs: %w", err)
	}
	return result.RowsAffected()
}
