package proxy

import "fmt"

// ValidationError rejects a malformed generateContent body before any key is
// consumed. It maps to HTTP 400 and is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "Invalid request format: " + e.Reason
}

// ExhaustedError is returned when every retry attempt failed. Each attempt
// has already written its own audit row.
type ExhaustedError struct {
	Attempts   int
	LastStatus int
	LastBody   string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("Gemini API error after %d attempts (%d): %s", e.Attempts, e.LastStatus, e.LastBody)
}
