package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelprompt/internal/domain"
	"github.com/dunamismax/pixelprompt/internal/id"
)

const (
	HeaderSignature = "X-Pixelprompt-Signature"
	HeaderTimestamp = "X-Pixelprompt-Timestamp"
	HeaderEvent     = "X-Pixelprompt-Event"
	HeaderDelivery  = "X-Pixelprompt-Delivery"

	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// JobEvent is the body posted when an edit job finishes.
type JobEvent struct {
	JobID      string                   `json:"job_id"`
	Status     string                   `json:"status"`
	Operations []domain.OperationRecord `json:"operations"`
	OutputKey  string                   `json:"output_key,omitempty"`
	Error      string                   `json:"error,omitempty"`
	FinishedAt time.Time                `json:"finished_at"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client posts signed job notifications. Every attempt of one delivery
// carries the same delivery ID, timestamp and signature, so receivers can
// drop duplicates.
type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(initialBackoff, cfg.MaxBackoff),
	}
}

type delivery struct {
	id        string
	event     string
	endpoint  string
	timestamp string
	signature string
	body      []byte
}

// Send delivers payload to endpoint. An empty endpoint is a no-op. Network
// errors, 429 and 5xx responses are retried with exponential backoff; any
// other non-2xx response ends the delivery at once.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	d := delivery{
		id:        id.New(),
		event:     event,
		endpoint:  endpoint,
		timestamp: timestamp,
		signature: Sign(c.signingSecret, timestamp, body),
		body:      body,
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		wait, err := c.post(ctx, d)
		if err == nil {
			return nil
		}
		lastErr = err

		var permanent *permanentError
		if errors.As(err, &permanent) || attempt == c.maxAttempts {
			break
		}

		if wait <= 0 {
			wait = backoff
			backoff = min(backoff*2, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("webhook %s delivery %s failed: %w", d.event, d.id, lastErr)
}

// post makes one attempt. wait is the receiver's Retry-After, if any.
func (c *Client) post(ctx context.Context, d delivery) (wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(d.body))
	if err != nil {
		return 0, &permanentError{err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDelivery, d.id)
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderTimestamp, d.timestamp)
	req.Header.Set(HeaderSignature, d.signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfter(resp.Header.Get("Retry-After"), c.maxBackoff), fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	default:
		return 0, &permanentError{err: fmt.Errorf("webhook rejected delivery: status=%d", resp.StatusCode)}
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryAfter reads a delay in seconds, capped at limit.
func retryAfter(header string, limit time.Duration) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, limit)
}

// Sign computes the signature header value for a delivery: HMAC-SHA256 over
// "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
