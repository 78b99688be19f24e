package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err = s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+2, err)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond).UTC()
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime() error = %v", err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("round trip = %v, want %v", parsed, now)
	}
}

func TestFormatTimeUTC(t *testing.T) {
	zone := time.FixedZone("UTC+8", 8*60*60)
	local := time.Date(2025, 3, 1, 8, 30, 0, 0, zone)
	got := formatTime(local)
	want := "2025-03-01T00:30:00.000Z"
	if got != want {
		t.Fatalf("formatTime() = %q, want %q", got, want)
	}
}
