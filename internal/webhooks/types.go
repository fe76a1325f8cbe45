package webhooks

import (
	"encoding/json"
	"time"
)

// AuthKind selects how outgoing webhook requests authenticate.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
	AuthAPIKey AuthKind = "api_key"
	AuthHMAC   AuthKind = "hmac"
	AuthJWT    AuthKind = "jwt"
)

// AuthConfig carries the credentials for one AuthKind. Only the fields
// relevant to the selected kind are read.
type AuthConfig struct {
	Kind AuthKind `json:"kind"`

	// Basic.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Bearer.
	Token string `json:"token,omitempty"`

	// API key. Header defaults to X-API-Key.
	APIKey string `json:"apiKey,omitempty"`
	Header string `json:"header,omitempty"`

	// HMAC and JWT. Algorithm is one of sha1, sha256 (default), sha512;
	// HMAC signatures go in SignatureHeader (default X-Webhook-Signature).
	Secret          string `json:"secret,omitempty"`
	Algorithm       string `json:"algorithm,omitempty"`
	SignatureHeader string `json:"signatureHeader,omitempty"`

	// JWT issuer claim (default eventcore).
	Issuer string `json:"issuer,omitempty"`
}

// Destination describes where and how to deliver a webhook.
type Destination struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout overrides the service default when positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	// VerifySSL defaults to true; json tag keeps the zero value
	// distinguishable on the wire.
	VerifySSL *bool `json:"verifySsl,omitempty"`

	// Compress gzips the request body and sets Content-Encoding.
	Compress bool `json:"compress,omitempty"`

	Auth *AuthConfig `json:"auth,omitempty"`
}

// DeliveryResult records the outcome of one delivery attempt.
type DeliveryResult struct {
	EventID        string        `json:"eventId"`
	SubscriptionID string        `json:"subscriptionId"`
	Success        bool          `json:"success"`
	StatusCode     int           `json:"statusCode,omitempty"`
	Response       string        `json:"response,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	Attempt        int           `json:"attempt"`
	DeliveredAt    time.Time     `json:"deliveredAt"`
}

// Job is the queue payload for an outbound webhook delivery.
type Job struct {
	EventID        string          `json:"eventId"`
	SubscriptionID string          `json:"subscriptionId"`
	TenantID       string          `json:"tenantId"`
	Destination    Destination     `json:"destination"`
	Payload        json.RawMessage `json:"payload"`
}

// Stats aggregates the retained delivery history.
type Stats struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	AvgTime   time.Duration `json:"avgTime"`
}
