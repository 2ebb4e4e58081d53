package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/shopspring/decimal"
)

// ClientConfig configures the HTTP gateway client.
type ClientConfig struct {
	BaseURL       string        // e.g. "https://pay.example.com"
	APIKey        string        // bearer credential
	SigningSecret string        // HMAC-SHA256 key for the X-Signature header
	Currency      string        // ISO 4217, e.g. "EUR"
	Timeout       time.Duration // per attempt
	MaxRetries    int           // extra attempts on 5xx, 429 and transport errors
	BackoffBase   time.Duration // first retry delay, doubled each attempt
	Breaker       BreakerSettings
}

// ConfigFrom maps the environment gateway settings onto a ClientConfig.
func ConfigFrom(g config.GatewayConfig) ClientConfig {
	return ClientConfig{
		BaseURL:       g.BaseURL,
		APIKey:        g.APIKey,
		SigningSecret: g.SigningSecret,
		Currency:      g.Currency,
		Timeout:       g.Timeout,
		MaxRetries:    g.MaxRetries,
		BackoffBase:   g.BackoffBase,
		Breaker: BreakerSettings{
			MaxFailures: uint32(g.BreakerFailures),
			OpenTimeout: g.BreakerOpenPeriod,
			HalfOpenMax: 1,
		},
	}
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL  string
	apiKey   string
	secret   []byte
	currency string

	maxRetries int
	backoff    time.Duration

	hc      *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if logger == nil {
		logger = slog.Default()
	}
	breakerSettings := cfg.Breaker
	breakerSettings.IsSuccessful = func(err error) bool { return !isRetryable(err) }

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.SigningSecret),
		currency:   cfg.Currency,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.BackoffBase,
		hc:         &http.Client{Timeout: cfg.Timeout},
		breaker:    NewCircuitBreaker("payment-gateway", breakerSettings),
		logger:     logger.With("component", "payment"),
	}
}

// Currency returns the currency holds are created in.
func (c *Client) Currency() string { return c.currency }

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() State { return c.breaker.State() }

// ──────────────────────────────────────────────────────────────────────────────
// Gateway
// ──────────────────────────────────────────────────────────────────────────────

// CreateHold implements Gateway.
func (c *Client) CreateHold(ctx context.Context, req HoldRequest) (*HoldResult, error) {
	if req.Currency == "" {
		req.Currency = c.currency
	}
	var out HoldResult
	if err := c.call(ctx, "create_hold", "/v1/holds", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	if out.Ref == "" {
		return nil, fmt.Errorf("payment.create_hold: %w: empty hold reference", domain.ErrGatewayUnavailable)
	}
	return &out, nil
}

// CancelHold implements Gateway.
func (c *Client) CancelHold(ctx context.Context, ref, idempotencyKey string) error {
	path := "/v1/holds/" + url.PathEscape(ref) + "/cancel"
	return c.call(ctx, "cancel_hold", path, idempotencyKey, struct{}{}, nil)
}

// CaptureHold implements Gateway.
func (c *Client) CaptureHold(ctx context.Context, ref string, amount decimal.Decimal, idempotencyKey string) (*CaptureResult, error) {
	path := "/v1/holds/" + url.PathEscape(ref) + "/capture"
	body := struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}{Amount: amount, Currency: c.currency}

	var out CaptureResult
	if err := c.call(ctx, "capture_hold", path, idempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Transport
// ──────────────────────────────────────────────────────────────────────────────

// statusError is a non-2xx gateway answer.
type statusError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s %s", e.Status, e.Code, e.Message)
}

// retryableError marks failures worth repeating with the same key.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re) || errors.Is(err, ErrBreakerOpen)
}

// call runs one logical operation through the breaker and the retry loop and
// maps the outcome onto the domain error taxonomy.
func (c *Client) call(ctx context.Context, op, path, key string, in, out any) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		return c.withRetry(ctx, op, path, key, in, out)
	})
	metrics.TrackGateway(op, resultLabel(err), time.Since(start))
	if err == nil {
		return nil
	}

	var se *statusError
	switch {
	case errors.As(err, &se) && se.Status == http.StatusPaymentRequired:
		return fmt.Errorf("payment.%s: %w: %s", op, domain.ErrAuthorizationDeclined, se.Message)
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return fmt.Errorf("payment.%s: %w", op, domain.ErrHoldNotFound)
	case isRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("payment.%s: %w: %w", op, domain.ErrGatewayUnavailable, err)
	default:
		return fmt.Errorf("payment.%s: %w", op, err)
	}
}

func (c *Client) withRetry(ctx context.Context, op, path, key string, in, out any) error {
	var err error
	delay := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying gateway call", "op", op, "attempt", attempt, "err", err)
			select {
			case <-ctx.Done():
				return &retryableError{err: ctx.Err()}
			case <-time.After(delay):
				delay *= 2
			}
		}
		err = c.once(ctx, path, key, in, out)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, path, key string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("X-Signature", Sign(body, c.secret))

	resp, err := c.hc.Do(req)
	if err != nil {
		return &retryableError{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &retryableError{err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	se := &statusError{Status: resp.StatusCode}
	_ = json.Unmarshal(payload, se)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &retryableError{err: se}
	}
	return se
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func resultLabel(err error) string {
	var se *statusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case errors.As(err, &se) && se.Status == http.StatusPaymentRequired:
		return "declined"
	case isRetryable(err):
		return "unavailable"
	default:
		return "error"
	}
}
