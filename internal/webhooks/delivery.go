package webhooks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/vantagehq/eventcore/internal/metrics"
)

const (
	// DefaultAPIKeyHeader is used when an api_key auth config names no
	// header.
	DefaultAPIKeyHeader = "X-API-Key"

	// DefaultSignatureHeader carries the HMAC signature.
	DefaultSignatureHeader = "X-Webhook-Signature"

	maxResponseBytes = 32 * 1024
)

// DelivererConfig holds configuration for a Deliverer.
type DelivererConfig struct {
	// Timeout is the default per-request timeout used when a
	// destination supplies none (default: 30s).
	Timeout time.Duration

	// ResultHistorySize bounds the retained results per event
	// (default: 100). Oldest results are trimmed first.
	ResultHistorySize int

	// UserAgent for outgoing requests (default: eventcore-webhook/1.0).
	UserAgent string
}

// Deliverer performs outbound webhook HTTP calls and retains a bounded
// per-event history of their results. It never retries; retry policy
// belongs to the queue consumer.
type Deliverer struct {
	client         *http.Client
	insecureClient *http.Client
	cfg            DelivererConfig

	mu      sync.RWMutex
	results map[string][]*DeliveryResult
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(cfg DelivererConfig) *Deliverer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ResultHistorySize == 0 {
		cfg.ResultHistorySize = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "eventcore-webhook/1.0"
	}

	return &Deliverer{
		client: &http.Client{},
		insecureClient: &http.Client{
			Transport: &http.Transport{
				// Destinations may opt out of certificate checks, e.g.
				// staging endpoints behind self-signed certs.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
			},
		},
		cfg:     cfg,
		results: make(map[string][]*DeliveryResult),
	}
}

// Deliver performs one webhook call and records its result. The result
// is always recorded and returned, including on transport failure; a
// non-nil error is returned only when the destination configuration
// itself is unusable.
func (d *Deliverer) Deliver(ctx context.Context, eventID, subscriptionID, tenantID string, dest Destination, payload []byte, attempt int) (*DeliveryResult, error) {
	result := &DeliveryResult{
		EventID:        eventID,
		SubscriptionID: subscriptionID,
		Attempt:        attempt,
		DeliveredAt:    time.Now().UTC(),
	}

	req, cancel, err := d.buildRequest(ctx, eventID, subscriptionID, dest, payload, attempt)
	if err != nil {
		result.Error = err.Error()
		d.record(result)
		return result, err
	}
	defer cancel()

	client := d.client
	if dest.VerifySSL != nil && !*dest.VerifySSL {
		client = d.insecureClient
	}

	start := time.Now()
	resp, httpErr := client.Do(req)
	result.Duration = time.Since(start)

	if httpErr != nil {
		result.Error = httpErr.Error()
		d.record(result)
		metrics.WebhookDelivered(tenantID, 0, result.Duration)

		log.Warn().
			Err(httpErr).
			Str("event_id", eventID).
			Str("url", dest.URL).
			Int("attempt", attempt).
			Msg("Webhook request failed")

		return result, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	result.StatusCode = resp.StatusCode
	result.Response = string(body)
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	d.record(result)
	metrics.WebhookDelivered(tenantID, resp.StatusCode, result.Duration)

	log.Debug().
		Str("event_id", eventID).
		Str("url", dest.URL).
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Dur("duration", result.Duration).
		Bool("success", result.Success).
		Msg("Webhook delivered")

	return result, nil
}

func (d *Deliverer) buildRequest(ctx context.Context, eventID, subscriptionID string, dest Destination, payload []byte, attempt int) (*http.Request, context.CancelFunc, error) {
	body := payload
	if dest.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return nil, nil, fmt.Errorf("compressing payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, nil, fmt.Errorf("compressing payload: %w", err)
		}
		body = buf.Bytes()
	}

	method := dest.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := dest.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, dest.URL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Subscription-ID", subscriptionID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", attempt))
	if dest.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	// Destination headers win on conflict.
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	if err := applyAuth(req, dest.Auth, body, eventID, subscriptionID); err != nil {
		cancel()
		return nil, nil, err
	}

	return req, cancel, nil
}

// applyAuth mutates the request per the auth config. The HMAC
// signature covers the exact outgoing body bytes.
func applyAuth(req *http.Request, auth *AuthConfig, body []byte, eventID, subscriptionID string) error {
	if auth == nil || auth.Kind == "" || auth.Kind == AuthNone {
		return nil
	}

	switch auth.Kind {
	case AuthBasic:
		credential := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+credential)

	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)

	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, auth.APIKey)

	case AuthHMAC:
		signature, err := ComputeSignature(body, auth.Secret, auth.Algorithm)
		if err != nil {
			return err
		}
		header := auth.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		req.Header.Set(header, signature)

	case AuthJWT:
		token, err := BuildJWT(auth.Secret, auth.Issuer, eventID, subscriptionID, time.Now().UTC())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

	default:
		return fmt.Errorf("unsupported auth kind: %s", auth.Kind)
	}

	return nil
}

func (d *Deliverer) record(result *DeliveryResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.results[result.EventID], result)
	if len(history) > d.cfg.ResultHistorySize {
		history = history[len(history)-d.cfg.ResultHistorySize:]
	}
	d.results[result.EventID] = history
}

// GetDeliveryResults returns the retained results for an event, oldest
// first.
func (d *Deliverer) GetDeliveryResults(eventID string) []*DeliveryResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	history := d.results[eventID]
	out := make([]*DeliveryResult, len(history))
	copy(out, history)
	return out
}

// ClearResults drops the retained history for an event.
func (d *Deliverer) ClearResults(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.results, eventID)
}

// Stats aggregates every retained result.
func (d *Deliverer) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var stats Stats
	var totalTime time.Duration
	for _, history := range d.results {
		for _, result := range history {
			stats.Total++
			if result.Success {
				stats.Succeeded++
			} else {
				stats.Failed++
			}
			totalTime += result.Duration
		}
	}
	if stats.Total > 0 {
		stats.AvgTime = totalTime / time.Duration(stats.Total)
	}
	return stats
}
