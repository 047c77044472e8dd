package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

func TestSettlementAnalyticsUsesPreset(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	restore := clock
	clock = func() time.Time { return now }
	defer func() { clock = restore }()

	stub := &testAnalyticsService{
		response: &types.SettlementQueryResponse{
			EscrowedKobo:    []types.TimeSeriesPoint{{Date: "2025-01-09", Value: 2_500_000}},
			MatchTiers:      []types.LabelValue{{Label: "reference", Value: 4}},
			DeferredPayouts: 1,
		},
	}

	handler := SettlementAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/analytics/settlements?preset=7d", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.period() != 7*24*time.Hour {
		t.Fatalf("expected 7d range, got %v", stub.period())
	}
	if !stub.last.End.Equal(now) {
		t.Fatalf("expected window to end now, got %v", stub.last.End)
	}

	var envelope struct {
		Data types.SettlementQueryResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.EscrowedKobo) != 1 || envelope.Data.EscrowedKobo[0].Value != 2_500_000 {
		t.Fatalf("unexpected escrowed series: %+v", envelope.Data.EscrowedKobo)
	}
	if envelope.Data.DeferredPayouts != 1 {
		t.Fatalf("unexpected deferred count %d", envelope.Data.DeferredPayouts)
	}
}

func TestSettlementAnalyticsExplicitRange(t *testing.T) {
	stub := &testAnalyticsService{}
	handler := SettlementAnalytics(stub, nil)

	req := httptest.NewRequest(http.MethodGet, "/?from=2025-01-01T00:00:00Z&to=2025-01-31T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.period() != 30*24*time.Hour {
		t.Fatalf("expected 30 day window, got %v", stub.period())
	}
}

func TestSettlementAnalyticsRejectsBadRange(t *testing.T) {
	cases := []string{
		"/?from=2025-01-01T00:00:00Z",
		"/?preset=365d",
		"/?from=2025-02-01T00:00:00Z&to=2025-01-01T00:00:00Z",
		"/?from=2024-01-01&to=2025-06-01",
		"/?from=yesterday&to=2025-01-01",
	}
	for _, target := range cases {
		stub := &testAnalyticsService{}
		resp := httptest.NewRecorder()
		SettlementAnalytics(stub, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", target, resp.Code)
		}
		if stub.calls != 0 {
			t.Fatalf("%s: service should not be called", target)
		}
	}
}

func TestSettlementAnalyticsPropagatesServiceError(t *testing.T) {
	stub := &testAnalyticsService{err: pkgerrors.New(pkgerrors.CodeDependency, "bigquery down")}
	resp := httptest.NewRecorder()
	SettlementAnalytics(stub, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestSettlementAnalyticsCalendarDays(t *testing.T) {
	stub := &testAnalyticsService{}
	resp := httptest.NewRecorder()
	SettlementAnalytics(stub, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?from=2025-01-01&to=2025-01-01", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.period() != 24*time.Hour {
		t.Fatalf("a single calendar day should span 24h, got %v", stub.period())
	}
}

func TestSettlementAnalyticsTodayPreset(t *testing.T) {
	now := time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC)
	restore := clock
	clock = func() time.Time { return now }
	defer func() { clock = restore }()

	stub := &testAnalyticsService{}
	resp := httptest.NewRecorder()
	SettlementAnalytics(stub, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?preset=TODAY", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if want := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC); !stub.last.Start.Equal(want) {
		t.Fatalf("expected start at midnight, got %v", stub.last.Start)
	}
}

// testAnalyticsService records the last query it served.
type testAnalyticsService struct {
	calls    int
	last     types.SettlementQueryRequest
	response *types.SettlementQueryResponse
	err      error
}

func (s *testAnalyticsService) Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.response == nil {
		s.response = &types.SettlementQueryResponse{}
	}
	return s.response, nil
}

func (s *testAnalyticsService) period() time.Duration {
	return s.last.End.Sub(s.last.Start)
}
