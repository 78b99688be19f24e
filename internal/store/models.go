package store

import "time"

// ApiKey is one upstream Gemini credential in the pool.
type ApiKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyValue   string     `json:"keyValue"`
	IsActive   bool       `json:"isActive"`
	UsageCount int64      `json:"usageCount"`
	LastUsed   *time.Time `json:"lastUsed"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// KeyUpdate is a partial update to an ApiKey; nil fields are left untouched.
type KeyUpdate struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"isActive"`
}

// RequestLog is one appended audit row. Rows are never updated after insert.
type RequestLog struct {
	ID             string    `json:"id"`
	APIKeyID       string    `json:"apiKeyId"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	RequestBody    *string   `json:"requestBody"`
	ResponseBody   *string   `json:"responseBody"`
	CreatedAt      time.Time `json:"createdAt"`
}

// RequestLogEntry is a log row joined with the key name for the operator UI.
// APIKeyName is empty for rows that never reached upstream (auth rejections).
type RequestLogEntry struct {
	ID             string    `json:"id"`
	APIKeyName     string    `json:"apiKeyName"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ProxySettings is the optional egress proxy block from app_settings.
type ProxySettings struct {
	Enabled  bool   `json:"enabled"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// KeyTodayCount is one key's request count since the current stats boundary.
type KeyTodayCount struct {
	APIKeyID   string `json:"apiKeyId"`
	APIKeyName string `json:"apiKeyName"`
	Requests   int64  `json:"requests"`
}

// UsageStats aggregates the request log and key counters for the operator UI.
// "Today" is the interval since the most recent 15:00 UTC+8 boundary.
type UsageStats struct {
	TotalRequests       int64           `json:"totalRequests"`
	TotalUsage          int64           `json:"totalUsage"`
	AvgResponseTimeMs   float64         `json:"avgResponseTime"`
	TodayRequests       int64           `json:"todayRequests"`
	TodayAvgResponseMs  float64         `json:"todayAvgResponseTime"`
	TodayRequestsPerKey []KeyTodayCount `json:"todayRequestsPerKey"`
}
