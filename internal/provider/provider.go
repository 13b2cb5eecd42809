package provider

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
	"net/http"
	"strings"
	"time"

	"fulfillment-service/internal/models"
)

// ErrorKind classifies provider failures into the bounded taxonomy shared
// by all three clients
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation_error"
	KindAuthExpired      ErrorKind = "auth_expired"
	KindForbidden        ErrorKind = "forbidden"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnreachable      ErrorKind = "provider_unreachable"
	KindInvalidSignature ErrorKind = "invalid_signature"
)

// Error is a classified provider failure
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider error: %s (status=%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s: %s", e.Kind, e.Message)
}

// Transient reports whether the failure is eligible for automatic retry
func (e *Error) Transient() bool {
	return e.Kind == KindUnreachable || e.Kind == KindRateLimited
}

// IsTransient reports whether err carries a retryable classification
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

// KindOf extracts the classification from an error chain, or "" if the error
// is not a provider failure
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// ClassifyStatus maps an HTTP response status into the failure taxonomy
func ClassifyStatus(status int, message string) *Error {
	kind := KindUnreachable
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status == http.StatusUnauthorized:
		kind = KindAuthExpired
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// Request carries everything a client needs to quote or place one order line.
// Amount is always in minor currency units; clients that speak major units on
// the wire convert at their own boundary.
type Request struct {
	OrderID      string
	LineID       string
	GuestID      string
	PropertyID   string
	ItemID       string
	Quantity     int
	Amount       int64
	Currency     string
	ScheduledFor *time.Time
	// Provider-specific hints from the catalog item: addresses, store ids,
	// ride types and the like.
	Metadata map[string]string
}

// Estimate is a normalized provider quote, in minor currency units
type Estimate struct {
	Provider   models.Provider
	Amount     int64
	Currency   string
	EtaMinutes int
}

// Reference is the identifier a provider assigns to a placed order
type Reference struct {
	Provider models.Provider
	ID       string
	State    string
}

// Status is a normalized provider-side order state
type Status struct {
	Provider  models.Provider
	Reference string
	State     string
	UpdatedAt time.Time
}

// Client is the uniform capability set every fulfillment provider exposes,
// regardless of transport and auth scheme differences
type Client interface {
	Name() models.Provider
	Quote(ctx context.Context, req *Request) (*Estimate, error)
	Place(ctx context.Context, req *Request) (*Reference, error)
	GetStatus(ctx context.Context, ref string) (*Status, error)
	Cancel(ctx context.Context, guestID, ref string) error
	// VerifySignature authenticates a webhook payload. Clients without a
	// signature scheme accept on trust-boundary control alone.
	VerifySignature(payload []byte, signature string) bool
}

// transport is the HTTP plumbing shared by the three clients
type transport struct {
	baseURL    string
	httpClient *http.Client
}

func newTransport(baseURL string, timeout time.Duration) transport {
	return transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doJSON performs one JSON request against the provider and decodes the
// response into out. Network failures and non-2xx statuses come back as
// classified *Error values.
func (t *transport) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindUnreachable, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// verifyHMAC checks a hex-encoded HMAC-SHA256 signature over the raw payload
// bytes in constant time
func verifyHMAC(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}
