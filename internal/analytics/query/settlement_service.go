package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	"github.com/angelmondragon/tradeline-backend/pkg/bigquery"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

const maxWindow = 366 * 24 * time.Hour

const (
	dailySumSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(occurred_at)) AS day,
  SUM(COALESCE(%s, 0)) AS value
FROM %s
WHERE event_type = '%s'
  AND occurred_at >= @start AND occurred_at < @end
GROUP BY day
ORDER BY day ASC
`

	matchTiersSQL = `
SELECT match_tier AS label, COUNT(*) AS value
FROM %s
WHERE event_type = 'payment_escrowed'
  AND match_tier IS NOT NULL
  AND occurred_at >= @start AND occurred_at < @end
GROUP BY match_tier
ORDER BY value DESC
`

	countSQL = `
SELECT COUNT(*) AS value
FROM %s
WHERE event_type = '%s'
  AND occurred_at >= @start AND occurred_at < @end
`
)

// SettlementService answers dashboard questions from settlement_events.
type SettlementService interface {
	Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error)
}

type settlementService struct {
	client   *bigquery.Client
	tableRef string
}

// NewSettlementService builds a service backed by BigQuery.
func NewSettlementService(client *bigquery.Client, project, dataset, table string) (SettlementService, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if project == "" || dataset == "" || table == "" {
		return nil, errors.New("project, dataset, and table are required")
	}
	return &settlementService{
		client:   client,
		tableRef: fmt.Sprintf("`%s.%s.%s`", project, dataset, table),
	}, nil
}

func (s *settlementService) Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	params := []cloudbigquery.QueryParameter{
		{Name: "start", Value: req.Start.UTC()},
		{Name: "end", Value: req.End.UTC()},
	}

	resp := &types.SettlementQueryResponse{}
	series := []struct {
		column string
		event  string
		dst    *[]types.TimeSeriesPoint
	}{
		{"amount_kobo", "payment_escrowed", &resp.EscrowedKobo},
		{"seller_share_kobo", "payout_completed", &resp.PaidOutKobo},
		{"commission_kobo", "payout_completed", &resp.CommissionKobo},
		{"refund_net_kobo", "refund_resolved", &resp.RefundedKobo},
	}
	for _, q := range series {
		points, err := s.querySeries(ctx, fmt.Sprintf(dailySumSQL, q.column, s.tableRef, q.event), params)
		if err != nil {
			return nil, err
		}
		*q.dst = points
	}

	tiers, err := s.queryLabels(ctx, fmt.Sprintf(matchTiersSQL, s.tableRef), params)
	if err != nil {
		return nil, err
	}
	resp.MatchTiers = tiers

	if resp.DeferredPayouts, err = s.queryCount(ctx, fmt.Sprintf(countSQL, s.tableRef, "payout_deferred"), params); err != nil {
		return nil, err
	}
	if resp.UnmatchedEvents, err = s.queryCount(ctx, fmt.Sprintf(countSQL, s.tableRef, "unmatched_payment_recorded"), params); err != nil {
		return nil, err
	}
	return resp, nil
}

// ValidateRequest rejects empty, inverted, or over-long windows.
func ValidateRequest(req types.SettlementQueryRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if !req.End.After(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	if req.End.Sub(req.Start) > maxWindow {
		return pkgerrors.New(pkgerrors.CodeValidation, "window may not exceed one year")
	}
	return nil
}

func (s *settlementService) querySeries(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	points := []types.TimeSeriesPoint{}
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("reading series row: %w", err)
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}

func (s *settlementService) queryLabels(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.LabelValue, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}

	result := []types.LabelValue{}
	for {
		var row struct {
			Label string `bigquery:"label"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("reading label row: %w", err)
		}
		result = append(result, types.LabelValue{Label: row.Label, Value: row.Value})
	}
	return result, nil
}

func (s *settlementService) queryCount(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (int64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	var row struct {
		Value int64 `bigquery:"value"`
	}
	if err := iter.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading count row: %w", err)
	}
	return row.Value, nil
}
