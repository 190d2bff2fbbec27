package tools

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TransportKind 传输类型
type TransportKind string

const (
	TransportHTTP      TransportKind = "http"
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
)

// Known reports whether k is a supported transport.
func (k TransportKind) Known() bool {
	switch k {
	case TransportHTTP, TransportSSE, TransportWebSocket:
		return true
	}
	return false
}

// HealthStatus 端点健康状态，只由探测循环修改。
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthUp      HealthStatus = "up"
	HealthDown    HealthStatus = "down"
)

// AuthType 认证方式
type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
)

// DefaultAPIKeyHeader is used when an api_key auth config names no header.
const DefaultAPIKeyHeader = "X-API-Key"

// Auth describes how requests to an endpoint are authenticated.
type Auth struct {
	Type     AuthType `json:"type,omitempty" yaml:"type"`
	Token    string   `json:"token,omitempty" yaml:"token"`
	APIKey   string   `json:"api_key,omitempty" yaml:"api_key"`
	Header   string   `json:"header,omitempty" yaml:"header"`
	Username string   `json:"username,omitempty" yaml:"username"`
	Password string   `json:"password,omitempty" yaml:"password"`
}

// Redacted returns a copy with secrets masked, suitable for listing.
func (a Auth) Redacted() Auth {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	a.Token = mask(a.Token)
	a.APIKey = mask(a.APIKey)
	a.Password = mask(a.Password)
	return a
}

// Endpoint is a registered external tool service.
type Endpoint struct {
	ID           string        `json:"id" yaml:"id"`
	Transport    TransportKind `json:"transport" yaml:"transport"`
	URL          string        `json:"url" yaml:"url"`
	Auth         Auth          `json:"auth,omitempty" yaml:"auth"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	RateLimitRPS float64       `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps"`
}

// Validate checks the endpoint definition.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if !e.Transport.Known() {
		return fmt.Errorf("endpoint %q: unsupported transport %q", e.ID, e.Transport)
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q: invalid url %q", e.ID, e.URL)
	}
	switch e.Auth.Type {
	case AuthNone, AuthBearer, AuthAPIKey, AuthBasic:
	default:
		return fmt.Errorf("endpoint %q: unsupported auth type %q", e.ID, e.Auth.Type)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("endpoint %q: timeout must be >= 0", e.ID)
	}
	if e.RateLimitRPS < 0 {
		return fmt.Errorf("endpoint %q: rate_limit_rps must be >= 0", e.ID)
	}
	return nil
}

// EndpointStatus is a point-in-time view of an endpoint, its health and counters.
type EndpointStatus struct {
	Endpoint           Endpoint     `json:"endpoint"`
	Health             HealthStatus `json:"health"`
	LastChecked        time.Time    `json:"last_checked,omitempty"`
	LastError          string       `json:"last_error,omitempty"`
	TotalRequests      int64        `json:"total_requests"`
	SuccessfulRequests int64        `json:"successful_requests"`
	FailedRequests     int64        `json:"failed_requests"`
	LastUsed           time.Time    `json:"last_used,omitempty"`
}
