// Package proxy implements the forwarding engine: upstream calls to the
// Google Generative Language API with key rotation, retry with exponential
// backoff, demotion of rejected keys, egress proxy support, and per-attempt
// audit logging for both unary and streaming requests.
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/audit"
	"github.com/keypool-dev/geminipool/internal/keypool"
	"github.com/keypool-dev/geminipool/internal/store"
)

const (
	// upstreamEndpoint is the base URL for the Google Generative Language API.
	upstreamEndpoint = "https://generativelanguage.googleapis.com"

	// backoffBase is the sleep before the second attempt; it doubles per
	// attempt after that (100, 200, 400, ... ms). No jitter: observable
	// behavior is preferred over decorrelation here.
	backoffBase = 100 * time.Millisecond

	// streamChunkSize is the read buffer for relayed byte streams.
	streamChunkSize = 4096
)

// Forwarder issues upstream requests on behalf of inbound clients. Both the
// unary and streaming paths share the same retry skeleton.
type Forwarder struct {
	store   *store.Store
	rotator *keypool.Rotator
	audit   *audit.Logger

	// baseURL is upstreamEndpoint outside of tests.
	baseURL string
}

// NewForwarder creates a forwarder over the given store, rotator, and audit
// logger.
func NewForwarder(s *store.Store, rotator *keypool.Rotator, auditLog *audit.Logger) *Forwarder {
	return &Forwarder{
		store:   s,
		rotator: rotator,
		audit:   auditLog,
		baseURL: upstreamEndpoint,
	}
}

// WithBaseURL overrides the upstream endpoint. Tests point it at a local
// server; production code leaves it alone.
func (f *Forwarder) WithBaseURL(base string) *Forwarder {
	f.baseURL = base
	return f
}

// rewritePath maps the inbound /v1/ prefix onto the upstream /v1beta/ surface.
func rewritePath(path string) string {
	return strings.Replace(path, "/v1/", "/v1beta/", 1)
}

// upstreamURL composes the full upstream URL for one attempt with the
// selected key (and alt=sse for streaming) as query parameters.
func (f *Forwarder) upstreamURL(path, keyValue string, streaming bool) string {
	query := url.Values{}
	query.Set("key", keyValue)
	if streaming {
		query.Set("alt", "sse")
	}
	return f.baseURL + rewritePath(path) + "?" + query.Encode()
}

// needsValidation reports whether the request body must be validated before
// the first attempt. Both generation actions carry a contents body.
func needsValidation(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	return strings.Contains(path, ":generateContent") || strings.Contains(path, ":streamGenerateContent")
}

// captureRequestBody pretty-prints the inbound body for the audit trail.
// GET requests carry no body and capture nothing.
func captureRequestBody(method string, body []byte) *string {
	if method == http.MethodGet {
		return nil
	}
	return audit.PrettyBody(body)
}

// Forward issues a unary upstream request and returns the raw 2xx response
// body along with the upstream status code. Failed attempts are retried with
// the next key up to the configured retry count.
func (f *Forwarder) Forward(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	if needsValidation(method, path) {
		if err := validateGenerateContent(body); err != nil {
			return nil, 0, &ValidationError{Reason: err.Error()}
		}
	}

	var result []byte
	var status int
	err := f.attemptLoop(ctx, method, path, body, false, func(resp *http.Response) (*string, error) {
		defer func() { _ = resp.Body.Close() }()
		data, errRead := io.ReadAll(resp.Body)
		if errRead != nil {
			return nil, errRead
		}
		result = data
		status = resp.StatusCode
		snapshot := string(data)
		return &snapshot, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result, status, nil
}

// ForwardStream issues a streaming upstream request. On a 2xx response it
// returns channels carrying the raw upstream byte chunks and at most one
// terminal error; both are closed when the stream ends. The chunk channel is
// unbuffered so the upstream body is consumed only as fast as the caller
// drains it.
func (f *Forwarder) ForwardStream(ctx context.Context, method, path string, body []byte) (<-chan []byte, <-chan error, error) {
	if needsValidation(method, path) {
		if err := validateGenerateContent(body); err != nil {
			return nil, nil, &ValidationError{Reason: err.Error()}
		}
	}

	data := make(chan []byte)
	errs := make(chan error, 1)
	err := f.attemptLoop(ctx, method, path, body, true, func(resp *http.Response) (*string, error) {
		go f.relay(ctx, resp.Body, data, errs)
		sentinel := audit.StreamingSentinel
		return &sentinel, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return data, errs, nil
}

// attemptLoop runs the shared retry skeleton. onSuccess receives the 2xx
// response and returns the response-body snapshot to audit; for unary calls
// it drains and closes the body, for streaming it hands the body off to the
// relay goroutine and returns the sentinel.
func (f *Forwarder) attemptLoop(ctx context.Context, method, path string, body []byte, streaming bool, onSuccess func(*http.Response) (*string, error)) error {
	retryCount := f.store.RetryCount(ctx)
	requestBody := captureRequestBody(method, body)

	var lastStatus int
	var lastBody string

	for attempt := 0; attempt < retryCount; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return err
			}
		}

		started := time.Now()

		key, err := f.rotator.Next(ctx)
		if err != nil {
			return err
		}

		resp, err := f.send(ctx, method, path, key.KeyValue, body, streaming)
		if err != nil {
			// Transport failure: no round trip completed, so usage is not
			// charged, but the attempt is still logged.
			elapsed := time.Since(started).Milliseconds()
			message := err.Error()
			f.audit.ForwardAttempt(ctx, key.ID, method, path, http.StatusInternalServerError, elapsed, requestBody, &message)
			log.Warnf("upstream transport error (attempt %d/%d): %v", attempt+1, retryCount, err)
			lastStatus = http.StatusInternalServerError
			lastBody = message
			continue
		}

		// The round trip completed; charge the key regardless of outcome.
		if errUsage := f.store.IncrementUsage(ctx, key.ID); errUsage != nil {
			log.Warnf("failed to increment usage for key %s: %v", key.ID, errUsage)
		}

		elapsed := time.Since(started).Milliseconds()
		status := resp.StatusCode

		if status >= 200 && status < 300 {
			snapshot, errSuccess := onSuccess(resp)
			if errSuccess != nil {
				return errSuccess
			}
			if !streaming {
				elapsed = time.Since(started).Milliseconds()
			}
			f.audit.ForwardAttempt(ctx, key.ID, method, path, status, elapsed, requestBody, snapshot)
			return nil
		}

		errorBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		errorText := string(errorBody)

		f.audit.ForwardAttempt(ctx, key.ID, method, path, status, elapsed, requestBody, &errorText)

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			if errMark := f.rotator.MarkFailed(ctx, key.ID); errMark != nil {
				log.Warnf("failed to deactivate key %s: %v", key.ID, errMark)
			}
		}

		log.WithFields(log.Fields{"attempt": fmt.Sprintf("%d/%d", attempt+1, retryCount), "status": status}).
			Warnf("upstream request failed: %s", errorText)
		lastStatus = status
		lastBody = errorText
	}

	return &ExhaustedError{Attempts: retryCount, LastStatus: lastStatus, LastBody: lastBody}
}

// send performs one upstream round trip with a fresh proxy-aware client.
func (f *Forwarder) send(ctx context.Context, method, path, keyValue string, body []byte, streaming bool) (*http.Response, error) {
	proxySettings, err := f.store.ProxySettings(ctx)
	if err != nil {
		log.Warnf("failed to read egress proxy settings, using direct connection: %v", err)
		proxySettings = nil
	}

	var reader io.Reader
	if method != http.MethodGet {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.upstreamURL(path, keyValue, streaming), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	return newHTTPClient(proxySettings).Do(req)
}

// relay copies the upstream byte stream onto the data channel until EOF,
// upstream failure, or caller cancellation.
func (f *Forwarder) relay(ctx context.Context, upstream io.ReadCloser, data chan<- []byte, errs chan<- error) {
	defer close(data)
	defer close(errs)
	defer func() { _ = upstream.Close() }()

	buf := make([]byte, streamChunkSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case data <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				errs <- fmt.Errorf("stream error: %w", err)
			}
			return
		}
	}
}

// sleepBackoff waits 100·2^attempt milliseconds or until the context ends.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := backoffBase << uint(attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
