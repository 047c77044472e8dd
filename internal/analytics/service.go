package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/query"
	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	"github.com/angelmondragon/tradeline-backend/pkg/bigquery"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const (
	settlementReport = "settlements"
	keyTimeLayout    = "200601021504"
)

// Service provides settlement reports for the admin dashboard.
type Service interface {
	Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error)
}

// ReportCache is the slice of the Redis client the report cache needs.
type ReportCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	ReportKey(name string, parts ...string) string
}

type Options struct {
	Project  string
	Dataset  string
	Table    string
	CacheTTL time.Duration
}

// reports answers from Redis when the same minute-aligned window was
// computed within the TTL and from BigQuery otherwise.
type reports struct {
	source query.SettlementService
	cache  ReportCache
	ttl    time.Duration
	logg   *logger.Logger
}

// NewService builds the BigQuery-backed report service. A nil cache or a
// non-positive TTL turns caching off.
func NewService(client *bigquery.Client, cache ReportCache, logg *logger.Logger, opts Options) (Service, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	source, err := query.NewSettlementService(client, opts.Project, opts.Dataset, opts.Table)
	if err != nil {
		return nil, err
	}
	return newReports(source, cache, opts.CacheTTL, logg), nil
}

func newReports(source query.SettlementService, cache ReportCache, ttl time.Duration, logg *logger.Logger) *reports {
	if ttl <= 0 {
		cache = nil
	}
	return &reports{source: source, cache: cache, ttl: ttl, logg: logg}
}

func (r *reports) Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	start, end := req.Start.UTC().Truncate(time.Minute), req.End.UTC().Truncate(time.Minute)
	if r.cache == nil || !end.After(start) {
		return r.source.Query(ctx, req)
	}

	key := r.cache.ReportKey(settlementReport, start.Format(keyTimeLayout), end.Format(keyTimeLayout))
	if hit, ok := r.lookup(ctx, key); ok {
		return hit, nil
	}
	resp, err := r.source.Query(ctx, types.SettlementQueryRequest{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, resp)
	return resp, nil
}

func (r *reports) lookup(ctx context.Context, key string) (*types.SettlementQueryResponse, bool) {
	raw, err := r.cache.Get(ctx, key)
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "report cache read failed")
		return nil, false
	}
	var resp types.SettlementQueryResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "cache_key", key), "discarding unreadable cached report")
		return nil, false
	}
	return &resp, true
}

func (r *reports) store(ctx context.Context, key string, resp *types.SettlementQueryResponse) {
	raw, err := json.Marshal(resp)
	if err == nil {
		err = r.cache.Set(ctx, key, raw, r.ttl)
	}
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "report cache write failed")
	}
}
