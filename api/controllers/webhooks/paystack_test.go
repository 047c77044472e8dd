package webhooks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	paystackwebhook "github.com/angelmondragon/tradeline-backend/internal/webhooks/paystack"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const testSecret = "sk_test_webhook"

const chargePayload = `{"event":"charge.success","data":{"id":4099260516,"reference":"TLP-8K2M4Q7W1Z3X","amount":500000,"status":"success"}}`

func TestPaystackWebhook_SuccessAndIdempotent(t *testing.T) {
	service := &fakePaystackService{}
	handler := PaystackWebhook(service, staticSecret(testSecret), newGuard(t), nil)

	rec := deliver(handler, []byte(chargePayload), paystack.Sign(testSecret, []byte(chargePayload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
	if service.lastID != "charge.success:4099260516" {
		t.Fatalf("unexpected dedup key %q", service.lastID)
	}

	rec = deliver(handler, []byte(chargePayload), paystack.Sign(testSecret, []byte(chargePayload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestPaystackWebhook_InvalidSignature(t *testing.T) {
	service := &fakePaystackService{}
	handler := PaystackWebhook(service, staticSecret(testSecret), newGuard(t), nil)

	for _, header := range []string{"", "deadbeef", paystack.Sign("other-secret", []byte(chargePayload))} {
		rec := deliver(handler, []byte(chargePayload), header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for signature %q, got %d", header, rec.Code)
		}
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestPaystackWebhook_MalformedPayload(t *testing.T) {
	service := &fakePaystackService{}
	handler := PaystackWebhook(service, staticSecret(testSecret), newGuard(t), nil)

	body := []byte(`{"data":"nope"}`)
	rec := deliver(handler, body, paystack.Sign(testSecret, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on malformed payload")
	}
}

func TestPaystackWebhook_FailureReleasesGuardForRedelivery(t *testing.T) {
	service := &fakePaystackService{err: errors.New("connection reset")}
	handler := PaystackWebhook(service, staticSecret(testSecret), newGuard(t), nil)
	sig := paystack.Sign(testSecret, []byte(chargePayload))

	rec := deliver(handler, []byte(chargePayload), sig)
	if rec.Code < 500 {
		t.Fatalf("expected 5xx so the gateway retries, got %d", rec.Code)
	}

	service.err = nil
	rec = deliver(handler, []byte(chargePayload), sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, got %d calls", service.calls)
	}
}

func TestPaystackWebhook_ValidationErrorIsClientError(t *testing.T) {
	service := &fakePaystackService{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid webhook payload")}
	handler := PaystackWebhook(service, staticSecret(testSecret), newGuard(t), nil)

	rec := deliver(handler, []byte(chargePayload), paystack.Sign(testSecret, []byte(chargePayload)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaystackWebhook_GuardOutageStillProcesses(t *testing.T) {
	service := &fakePaystackService{}
	handler := PaystackWebhook(service, staticSecret(testSecret), brokenGuard{}, nil)

	rec := deliver(handler, []byte(chargePayload), paystack.Sign(testSecret, []byte(chargePayload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.calls != 1 {
		t.Fatalf("expected service call despite guard outage")
	}
}

func deliver(handler http.HandlerFunc, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paystack", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(paystack.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newGuard(t *testing.T) *paystackwebhook.IdempotencyGuard {
	t.Helper()
	guard, err := paystackwebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type fakePaystackService struct {
	calls  int
	lastID string
	err    error
}

func (f *fakePaystackService) HandleEvent(_ context.Context, eventID string, _ *paystack.Event) error {
	f.calls++
	f.lastID = eventID
	return f.err
}

type brokenGuard struct{}

func (brokenGuard) CheckAndMark(context.Context, string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func (brokenGuard) Delete(context.Context, string) error { return nil }

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]struct{}
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]struct{}{}}
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = struct{}{}
	return true, nil
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *inMemoryStore) WebhookEventKey(provider, eventID string) string {
	return "tl:webhook:" + provider + ":" + eventID
}
