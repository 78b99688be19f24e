// Package audit appends the request audit trail: one row per inbound request
// attempt, including synthesized error envelopes on failure paths and body
// snapshots. Rows are append-only; consumers distinguish streaming successes
// by the literal "[Streaming Response]" sentinel in response_body.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/keypool-dev/geminipool/internal/store"
)

// StreamingSentinel is stored as response_body for streaming successes.
// The literal is a schema convention shared with log consumers.
const StreamingSentinel = "[Streaming Response]"

// Logger appends audit rows to the store. Append failures are logged and
// swallowed: a lost audit row must never fail the request it describes.
type Logger struct {
	store     *store.Store
	bodyLimit int
}

// NewLogger creates an audit logger. bodyLimit caps captured response bodies
// in bytes; <= 0 disables truncation.
func NewLogger(s *store.Store, bodyLimit int) *Logger {
	return &Logger{store: s, bodyLimit: bodyLimit}
}

// statusToCode maps HTTP statuses onto the Google-style error code used in
// synthesized envelopes.
func statusToCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorEnvelope synthesizes the JSON error body stored for failure rows and
// returned on handler-level errors:
// {"error":{"code":<CODE>,"message":<msg>,"status":<CODE>}}
func ErrorEnvelope(status int, message string) string {
	code := statusToCode(status)
	body := `{"error":{}}`
	body, _ = sjson.Set(body, "error.code", code)
	body, _ = sjson.Set(body, "error.message", message)
	body, _ = sjson.Set(body, "error.status", code)
	return body
}

// AuthError appends a row for an inbound authentication rejection. The row
// carries an empty api_key_id and zero response time; the request never
// reached upstream.
func (l *Logger) AuthError(ctx context.Context, method, path, message string, status int, requestBody *string) {
	envelope := ErrorEnvelope(status, message)
	l.insert(ctx, &store.RequestLog{
		ID:           uuid.NewString(),
		APIKeyID:     "",
		Method:       method,
		Path:         path,
		StatusCode:   status,
		RequestBody:  requestBody,
		ResponseBody: &envelope,
		CreatedAt:    time.Now(),
	})
	log.Warnf("auth rejected: %s %s -> %d: %s", method, path, status, message)
}

// HandlerError appends a row for a handler-level failure (validation errors,
// empty key pool, route-shape mismatches). Elapsed time is measured from
// startedAt when provided, zero otherwise.
func (l *Logger) HandlerError(ctx context.Context, apiKeyID, method, path, message string, status int, startedAt time.Time, requestBody *string) {
	var elapsed int64
	if !startedAt.IsZero() {
		elapsed = time.Since(startedAt).Milliseconds()
	}
	envelope := ErrorEnvelope(status, message)
	l.insert(ctx, &store.RequestLog{
		ID:             uuid.NewString(),
		APIKeyID:       apiKeyID,
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: elapsed,
		RequestBody:    requestBody,
		ResponseBody:   &envelope,
		CreatedAt:      time.Now(),
	})
	log.Warnf("handler error: %s %s -> %d: %s", method, path, status, message)
}

// ForwardAttempt appends a row for one completed upstream round trip, success
// or failure. The raw upstream response body is stored, truncated at the
// configured ceiling.
func (l *Logger) ForwardAttempt(ctx context.Context, apiKeyID, method, path string, status int, elapsedMs int64, requestBody, responseBody *string) {
	l.insert(ctx, &store.RequestLog{
		ID:             uuid.NewString(),
		APIKeyID:       apiKeyID,
		Method:         method,
		Path:           path,
		StatusCode:     status,
		ResponseTimeMs: elapsedMs,
		RequestBody:    requestBody,
		ResponseBody:   l.truncate(responseBody),
		CreatedAt:      time.Now(),
	})
}

func (l *Logger) insert(ctx context.Context, entry *store.RequestLog) {
	// Detach from the caller's deadline: the row should land even when the
	// inbound client has already gone away.
	ctx = context.WithoutCancel(ctx)
	if err := l.store.InsertLog(ctx, entry); err != nil {
		log.Errorf("failed to append audit row for %s %s: %v", entry.Method, entry.Path, err)
	}
}

func (l *Logger) truncate(body *string) *string {
	if body == nil || l.bodyLimit <= 0 || len(*body) <= l.bodyLimit {
		return body
	}
	truncated := (*body)[:l.bodyLimit]
	return &truncated
}

// PrettyBody renders a captured request body as indented JSON, falling back
// to the raw text when it is not valid JSON.
func PrettyBody(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		body := string(raw)
		return &body
	}
	body := buf.String()
	return &body
}
