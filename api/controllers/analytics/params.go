package analytics

import (
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

// maxWindow bounds explicit ranges; the dashboard scans the ledger by day.
const maxWindow = 366 * 24 * time.Hour

var clock = func() time.Time { return time.Now().UTC() }

var presets = map[string]time.Duration{
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

// window is the half-open [start, end) interval a dashboard query covers.
type window struct {
	start, end time.Time
}

// parseWindow reads either an explicit from/to pair or a preset. Bounds may
// be RFC 3339 instants or calendar days; a calendar-day "to" covers that
// whole day. With neither given the last 30 days are used.
func parseWindow(r *http.Request, now time.Time) (window, error) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from == "" && to == "" {
		return presetWindow(q.Get("preset"), now)
	}
	if from == "" || to == "" {
		return window{}, rangeError("from and to must be provided together")
	}

	start, _, err := parseBound(from)
	if err != nil {
		return window{}, rangeError("invalid from value")
	}
	end, dayOnly, err := parseBound(to)
	if err != nil {
		return window{}, rangeError("invalid to value")
	}
	if dayOnly {
		end = end.AddDate(0, 0, 1)
	}
	switch {
	case !end.After(start):
		return window{}, rangeError("to must be after from")
	case end.Sub(start) > maxWindow:
		return window{}, rangeError("range may not exceed 366 days")
	}
	return window{start: start, end: end}, nil
}

func presetWindow(name string, now time.Time) (window, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "30d"
	}
	if name == "today" {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return window{start: midnight, end: now}, nil
	}
	span, ok := presets[name]
	if !ok {
		return window{}, rangeError("preset must be one of today, 7d, 30d, 90d")
	}
	return window{start: now.Add(-span), end: now}, nil
}

func parseBound(raw string) (time.Time, bool, error) {
	if day, err := time.Parse(time.DateOnly, raw); err == nil {
		return day.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t.UTC(), false, err
}

func rangeError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
