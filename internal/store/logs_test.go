package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func insertTestLog(t *testing.T, s *Store, apiKeyID string, status int, elapsed int64, createdAt time.Time) string {
	t.Helper()
	entry := &RequestLog{
		ID:             uuid.NewString(),
		APIKeyID:       apiKeyID,
		Method:         "POST",
		Path:           "/v1beta/models/gemini-2.0-flash:generateContent",
		StatusCode:     status,
		ResponseTimeMs: elapsed,
		CreatedAt:      createdAt,
	}
	if err := s.InsertLog(context.Background(), entry); err != nil {
		t.Fatalf("InsertLog() error = %v", err)
	}
	return entry.ID
}

func TestStatsBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "after boundary same day",
			now:  time.Date(2025, 6, 10, 18, 30, 0, 0, statsZone),
			want: time.Date(2025, 6, 10, 15, 0, 0, 0, statsZone),
		},
		{
			name: "before boundary rolls back a day",
			now:  time.Date(2025, 6, 10, 9, 0, 0, 0, statsZone),
			want: time.Date(2025, 6, 9, 15, 0, 0, 0, statsZone),
		},
		{
			name: "exactly on boundary",
			now:  time.Date(2025, 6, 10, 15, 0, 0, 0, statsZone),
			want: time.Date(2025, 6, 10, 15, 0, 0, 0, statsZone),
		},
		{
			name: "utc input converted first",
			now:  time.Date(2025, 6, 10, 6, 59, 0, 0, time.UTC), // 14:59 UTC+8
			want: time.Date(2025, 6, 9, 15, 0, 0, 0, statsZone),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statsBoundary(tt.now)
			if !got.Equal(tt.want) {
				t.Fatalf("statsBoundary(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestGetLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reqBody := `{"contents": [{"parts": [{"text": "hi"}]}]}`
	respBody := `{"candidates": []}`
	entry := &RequestLog{
		ID:             uuid.NewString(),
		APIKeyID:       "key-1",
		Method:         "POST",
		Path:           "/v1beta/models/gemini-2.0-flash:generateContent",
		StatusCode:     200,
		ResponseTimeMs: 420,
		RequestBody:    &reqBody,
		ResponseBody:   &respBody,
		CreatedAt:      time.Now().Truncate(time.Millisecond).UTC(),
	}
	if err := s.InsertLog(ctx, entry); err != nil {
		t.Fatalf("InsertLog() error = %v", err)
	}

	got, err := s.GetLog(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetLog() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetLog() = nil")
	}
	if got.RequestBody == nil || *got.RequestBody != reqBody {
		t.Fatalf("request body = %v", got.RequestBody)
	}
	if got.ResponseBody == nil || *got.ResponseBody != respBody {
		t.Fatalf("response body = %v", got.ResponseBody)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}

	missing, err := s.GetLog(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetLog() error = %v", err)
	}
	if missing != nil {
		t.Fatalf("GetLog() = %+v, want nil", missing)
	}
}

func TestListLogsPageJoinsKeyName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateKey(ctx, "named-key", "value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	now := time.Now().UTC()
	insertTestLog(t, s, key.ID, 200, 100, now.Add(-2*time.Minute))
	insertTestLog(t, s, "", 401, 0, now.Add(-time.Minute)) // auth rejection, no key

	entries, total, err := s.ListLogsPage(ctx, 1, 50)
	if err != nil {
		t.Fatalf("ListLogsPage() error = %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("total = %d, len = %d, want 2/2", total, len(entries))
	}
	// Newest first.
	if entries[0].StatusCode != 401 {
		t.Fatalf("first entry status = %d, want 401", entries[0].StatusCode)
	}
	if entries[0].APIKeyName != "" {
		t.Fatalf("auth rejection key name = %q, want empty", entries[0].APIKeyName)
	}
	if entries[1].APIKeyName != "named-key" {
		t.Fatalf("key name = %q, want %q", entries[1].APIKeyName, "named-key")
	}
}

func TestUsageStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateKey(ctx, "stats-key", "value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		if err = s.IncrementUsage(ctx, key.ID); err != nil {
			t.Fatalf("IncrementUsage() error = %v", err)
		}
	}

	now := time.Date(2025, 6, 10, 18, 0, 0, 0, statsZone)
	boundary := statsBoundary(now)

	// Two rows inside the current window, one before it.
	insertTestLog(t, s, key.ID, 200, 100, boundary.Add(time.Hour))
	insertTestLog(t, s, key.ID, 200, 300, boundary.Add(2*time.Hour))
	insertTestLog(t, s, key.ID, 500, 800, boundary.Add(-time.Hour))
	// Auth rejections never count toward per-key totals.
	insertTestLog(t, s, "", 401, 0, boundary.Add(time.Hour))

	stats, err := s.UsageStats(ctx, now)
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalRequests != 4 {
		t.Fatalf("totalRequests = %d, want 4", stats.TotalRequests)
	}
	if stats.TotalUsage != 4 {
		t.Fatalf("totalUsage = %d, want 4", stats.TotalUsage)
	}
	if stats.TodayRequests != 3 {
		t.Fatalf("todayRequests = %d, want 3", stats.TodayRequests)
	}
	if want := (100.0 + 300.0 + 0.0) / 3.0; stats.TodayAvgResponseMs != want {
		t.Fatalf("todayAvgResponseTime = %v, want %v", stats.TodayAvgResponseMs, want)
	}
	if len(stats.TodayRequestsPerKey) != 1 {
		t.Fatalf("todayRequestsPerKey = %+v, want one entry", stats.TodayRequestsPerKey)
	}
	perKey := stats.TodayRequestsPerKey[0]
	if perKey.APIKeyID != key.ID || perKey.APIKeyName != "stats-key" || perKey.Requests != 2 {
		t.Fatalf("per-key entry = %+v", perKey)
	}
}

func TestUsageStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.UsageStats(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalRequests != 0 || stats.TotalUsage != 0 || stats.AvgResponseTimeMs != 0 {
		t.Fatalf("empty stats = %+v", stats)
	}
	if stats.TodayRequestsPerKey == nil {
		t.Fatal("todayRequestsPerKey is nil, want empty slice")
	}
}

func TestPruneLogsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertTestLog(t, s, "k", 200, 10, now.Add(-72*time.Hour))
	insertTestLog(t, s, "k", 200, 10, now.Add(-48*time.Hour))
	keepID := insertTestLog(t, s, "k", 200, 10, now)

	pruned, err := s.PruneLogsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneLogsBefore() error = %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	remaining, err := s.CountLogs(ctx)
	if err != nil {
		t.Fatalf("CountLogs() error = %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
	kept, err := s.GetLog(ctx, keepID)
	if err != nil || kept == nil {
		t.Fatalf("GetLog(kept) = (%+v, %v)", kept, err)
	}
}
