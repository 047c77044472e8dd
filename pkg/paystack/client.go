package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
)

const (
	defaultBaseURL          = "https://api.paystack.co"
	defaultTimeout          = 15 * time.Second
	defaultRetryBase        = 200 * time.Millisecond
	defaultMaxRetries       = 3
	responseBodyReadLimit   = 64 << 10
	errorBodyReadLimit      = 1024
	defaultCurrency         = "NGN"
	recipientTypeNUBAN      = "nuban"
	transferSourceBalance   = "balance"
	retryJitterPercent      = 20
	statusClientClosedEarly = 499
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Observer receives one callback per gateway call for metrics.
type Observer interface {
	ObserveGatewayCall(op, outcome string, elapsed time.Duration)
}

// Client is a thin Paystack REST client. Every failure it returns is a *Error.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	currency   string
	maxRetries uint64
	retryBase  time.Duration
	observer   Observer
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at another host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithRetry sets the retry budget for idempotent calls.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if base > 0 {
			c.retryBase = base
		}
	}
}

func WithCurrency(currency string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(currency); trimmed != "" {
			c.currency = strings.ToUpper(trimmed)
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient builds a client authenticated with the account secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(secretKey)
	if trimmedKey == "" {
		return nil, errSecretKeyRequired
	}

	client := &Client{
		secretKey:  trimmedKey,
		baseURL:    defaultBaseURL,
		currency:   defaultCurrency,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// NewFromConfig wires the client from service configuration.
func NewFromConfig(cfg config.PaystackConfig, opts ...Option) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := []Option{
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRetry(cfg.MaxRetries, cfg.RetryBase),
		WithCurrency(cfg.Currency),
	}
	return NewClient(cfg.SecretKey, append(base, opts...)...)
}

// CreateCustomer registers a buyer with the gateway.
func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	var out Customer
	if err := c.call(ctx, "create_customer", http.MethodPost, "/customer", req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDedicatedAccount provisions a collection account for a customer.
func (c *Client) CreateDedicatedAccount(ctx context.Context, customerCode, preferredBank string) (*DedicatedAccount, error) {
	body := map[string]string{"customer": customerCode}
	if preferredBank != "" {
		body["preferred_bank"] = preferredBank
	}
	var out DedicatedAccount
	if err := c.call(ctx, "create_dedicated_account", http.MethodPost, "/dedicated_account", body, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransferRecipient registers a seller bank account as a payout target.
func (c *Client) CreateTransferRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	if req.Type == "" {
		req.Type = recipientTypeNUBAN
	}
	if req.Currency == "" {
		req.Currency = c.currency
	}
	var out Recipient
	if err := c.call(ctx, "create_transfer_recipient", http.MethodPost, "/transferrecipient", req, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the available balance in kobo for the client currency.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var entries []balanceEntry
	if err := c.call(ctx, "balance", http.MethodGet, "/balance", nil, true, &entries); err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Currency, c.currency) {
			return entry.Balance, nil
		}
	}
	return 0, nil
}

// InitiateTransfer starts a payout. It is never retried: a failure after the
// request left the process is reported as ambiguous.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	req.Source = transferSourceBalance
	var out Transfer
	if err := c.call(ctx, "initiate_transfer", http.MethodPost, "/transfer", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizeTransfer completes an OTP-gated transfer.
func (c *Client) FinalizeTransfer(ctx context.Context, transferCode, otp string) (*Transfer, error) {
	body := map[string]string{"transfer_code": transferCode, "otp": otp}
	var out Transfer
	if err := c.call(ctx, "finalize_transfer", http.MethodPost, "/transfer/finalize_transfer", body, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransfer looks a transfer up by our reference.
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	var out Transfer
	path := "/transfer/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, "verify_transfer", http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction looks a charge up by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Charge, error) {
	var out Charge
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, "verify_transaction", http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refund returns money for a collected charge.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var out Refund
	if err := c.call(ctx, "refund", http.MethodPost, "/refund", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body any, idempotent bool, out any) error {
	if c == nil {
		return &Error{Op: op, Kind: KindTransient, Message: "paystack client not configured"}
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindRejected, Message: "encode request", cause: err}
		}
		payload = encoded
	}

	start := time.Now()
	var err error
	if idempotent && c.maxRetries > 0 {
		backoff := retry.WithJitterPercent(retryJitterPercent, retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase)))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			callErr := c.do(ctx, op, method, path, payload, idempotent, out)
			if IsTransient(callErr) {
				return retry.RetryableError(callErr)
			}
			return callErr
		})
	} else {
		err = c.do(ctx, op, method, path, payload, idempotent, out)
	}

	if c.observer != nil {
		outcome := "ok"
		if err != nil {
			outcome = kindOf(err).String()
		}
		c.observer.ObserveGatewayCall(op, outcome, time.Since(start))
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, idempotent bool, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return &Error{Op: op, Kind: KindRejected, Message: "build request", cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindAmbiguous
		if idempotent {
			kind = KindTransient
		}
		return &Error{Op: op, Kind: kind, Message: "execute request", cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return &Error{Op: op, Kind: failureKind(resp.StatusCode, idempotent), StatusCode: resp.StatusCode, Message: "read response", cause: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{
			Op:         op,
			Kind:       failureKind(resp.StatusCode, idempotent),
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       truncate(raw, errorBodyReadLimit),
		}
	}

	if decodeErr != nil {
		return &Error{Op: op, Kind: failureKind(http.StatusBadGateway, idempotent), StatusCode: resp.StatusCode, Message: "decode response", Body: truncate(raw, errorBodyReadLimit), cause: decodeErr}
	}
	if !env.Status {
		return &Error{Op: op, Kind: KindRejected, StatusCode: resp.StatusCode, Message: env.Message, Body: truncate(raw, errorBodyReadLimit)}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Op: op, Kind: failureKind(http.StatusBadGateway, idempotent), StatusCode: resp.StatusCode, Message: "decode data", Body: truncate(raw, errorBodyReadLimit), cause: err}
		}
	}
	return nil
}

// failureKind maps an HTTP status onto a retry decision. Throttling means the
// gateway did nothing; other 4xx are definitive; everything else is transient
// for reads and ambiguous for money-moving writes.
func failureKind(status int, idempotent bool) Kind {
	if status == http.StatusTooManyRequests {
		return KindTransient
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != statusClientClosedEarly {
		return KindRejected
	}
	if idempotent {
		return KindTransient
	}
	return KindAmbiguous
}

func truncate(raw []byte, limit int) string {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
