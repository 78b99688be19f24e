package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/keypool-dev/geminipool/internal/store"
)

func newTestLogger(t *testing.T, bodyLimit int) (*store.Store, *Logger) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err = s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s, NewLogger(s, bodyLimit)
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{400, "INVALID_ARGUMENT"},
		{401, "UNAUTHENTICATED"},
		{403, "PERMISSION_DENIED"},
		{404, "NOT_FOUND"},
		{500, "INTERNAL"},
		{502, "UNKNOWN"},
	}
	for _, tt := range tests {
		envelope := ErrorEnvelope(tt.status, "something broke")
		parsed := gjson.Parse(envelope)
		if got := parsed.Get("error.code").String(); got != tt.code {
			t.Errorf("status %d: error.code = %q, want %q", tt.status, got, tt.code)
		}
		if got := parsed.Get("error.status").String(); got != tt.code {
			t.Errorf("status %d: error.status = %q, want %q", tt.status, got, tt.code)
		}
		if got := parsed.Get("error.message").String(); got != "something broke" {
			t.Errorf("status %d: error.message = %q", tt.status, got)
		}
	}
}

func TestAuthErrorRow(t *testing.T) {
	s, l := newTestLogger(t, 0)
	ctx := context.Background()

	body := `{"contents": []}`
	l.AuthError(ctx, "POST", "/v1beta/models/x:generateContent", "Invalid inbound secret provided: abcd****wxyz", 403, &body)

	logs, total, err := s.ListLogsPage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListLogsPage() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("rows = %d, want 1", total)
	}
	row, err := s.GetLog(ctx, logs[0].ID)
	if err != nil {
		t.Fatalf("GetLog() error = %v", err)
	}
	if row.APIKeyID != "" {
		t.Fatalf("api_key_id = %q, want empty", row.APIKeyID)
	}
	if row.StatusCode != 403 || row.ResponseTimeMs != 0 {
		t.Fatalf("row = %+v", row)
	}
	if row.ResponseBody == nil || gjson.Get(*row.ResponseBody, "error.status").String() != "PERMISSION_DENIED" {
		t.Fatalf("response body = %v", row.ResponseBody)
	}
	if row.RequestBody == nil || *row.RequestBody != body {
		t.Fatalf("request body = %v", row.RequestBody)
	}
}

func TestHandlerErrorElapsed(t *testing.T) {
	s, l := newTestLogger(t, 0)
	ctx := context.Background()

	l.HandlerError(ctx, "key-1", "POST", "/v1beta/models/x:generateContent", "boom", 500, time.Now().Add(-250*time.Millisecond), nil)

	logs, _, err := s.ListLogsPage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListLogsPage() error = %v", err)
	}
	if logs[0].ResponseTimeMs < 250 {
		t.Fatalf("response_time_ms = %d, want >= 250", logs[0].ResponseTimeMs)
	}
}

func TestForwardAttemptTruncates(t *testing.T) {
	s, l := newTestLogger(t, 16)
	ctx := context.Background()

	long := strings.Repeat("x", 100)
	l.ForwardAttempt(ctx, "key-1", "POST", "/p", 200, 5, nil, &long)

	logs, _, err := s.ListLogsPage(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListLogsPage() error = %v", err)
	}
	row, err := s.GetLog(ctx, logs[0].ID)
	if err != nil {
		t.Fatalf("GetLog() error = %v", err)
	}
	if row.ResponseBody == nil || len(*row.ResponseBody) != 16 {
		t.Fatalf("response body = %v, want 16 bytes", row.ResponseBody)
	}
}

func TestPrettyBody(t *testing.T) {
	if got := PrettyBody(nil); got != nil {
		t.Fatalf("PrettyBody(nil) = %v, want nil", got)
	}

	got := PrettyBody([]byte(`{"a":1}`))
	if got == nil || !strings.Contains(*got, "\n") {
		t.Fatalf("PrettyBody() = %v, want indented JSON", got)
	}

	raw := PrettyBody([]byte("not json"))
	if raw == nil || *raw != "not json" {
		t.Fatalf("PrettyBody() = %v, want raw fallback", raw)
	}
}
