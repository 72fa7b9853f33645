package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Razorpay REST API root.
	DefaultBaseURL = "https://api.razorpay.com/v1"
	// CurrencyINR is the only currency the storefront charges in.
	CurrencyINR = "INR"
)

// IntentRequest registers a payment with the provider. AmountMinor is in
// paise.
type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Intent is the provider side order the checkout widget is opened against.
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Provider creates payment intents.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// KeyID is the public key the client needs to open the payment UI.
	KeyID() string
}

// RazorpayClient talks to the Razorpay Orders API.
type RazorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a RazorpayClient.
type Option func(*RazorpayClient)

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *RazorpayClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RazorpayClient) { c.httpClient = hc }
}

// NewRazorpayClient builds a client. timeout bounds every CreateIntent call;
// zero means 10s.
func NewRazorpayClient(keyID, keySecret string, timeout time.Duration, opts ...Option) *RazorpayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &RazorpayClient{
		baseURL:    DefaultBaseURL,
		keyID:      keyID,
		keySecret:  keySecret,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *RazorpayClient) KeyID() string { return c.keyID }

type createOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent registers an order with Razorpay. Any failure, timeout
// included, is reported as ErrProviderUnavailable; the call is never retried
// so a second intent can't be created for the same order.
func (c *RazorpayClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrProviderUnavailable)
	}
	if req.Currency == "" {
		req.Currency = CurrencyINR
	}
	payload, err := json.Marshal(createOrderBody{
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrProviderUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrProviderUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Error.Description != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, ae.Error.Description)
		}
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var intent Intent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrProviderUnavailable, err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%w: response missing order id", ErrProviderUnavailable)
	}
	return &intent, nil
}
