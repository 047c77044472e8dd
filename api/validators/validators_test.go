package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
)

type refundBody struct {
	Reason string `json:"reason" validate:"required,notblank,min=3,max=20"`
	Kind   string `json:"kind" validate:"omitempty,oneof=full partial"`
}

func decode(t *testing.T, body string) (refundBody, *pkgerrors.Error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest refundBody
	err := DecodeJSONBody(req, &dest)
	if err == nil {
		return dest, nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	return dest, typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	dest, err := decode(t, `{"reason":"item never arrived","kind":"full"}`)
	require.Nil(t, err)
	assert.Equal(t, "item never arrived", dest.Reason)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
		field   string
		detail  string
	}{
		{name: "empty", body: "", message: "request body required"},
		{name: "unknown field", body: `{"reason":"late","extra":1}`, message: "invalid request body"},
		{name: "trailing object", body: `{"reason":"late"}{"reason":"again"}`, message: "request body must contain a single JSON object"},
		{name: "wrong type", body: `{"reason":12}`, message: "invalid request body", field: "reason", detail: "must be string"},
		{name: "blank", body: `{"reason":"     "}`, message: "validation failed", field: "reason", detail: "is required"},
		{name: "too long", body: `{"reason":"this reason is far too long"}`, message: "validation failed", field: "reason", detail: "must be at most 20 characters"},
		{name: "oneof", body: `{"reason":"late","kind":"half"}`, message: "validation failed", field: "kind", detail: "must be one of: full, partial"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			require.NotNil(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, err.Code())
			assert.Equal(t, tc.message, err.Message())
			if tc.field != "" {
				details, ok := err.Details().(map[string]string)
				require.True(t, ok, "details %#v", err.Details())
				assert.Equal(t, tc.detail, details[tc.field])
			}
		})
	}
}

func TestDecodeJSONBodyCapsSize(t *testing.T) {
	body := `{"reason":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	_, err := decode(t, body)
	require.NotNil(t, err)
	assert.Equal(t, "request body too large", err.Message())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 0))
	assert.Equal(t, "line one\nline two", SanitizeString("line one\nline two\x1b", 0))
	assert.Equal(t, "nairacash", SanitizeString("naira\x00cash", 0))
	assert.Equal(t, "₦₦₦", SanitizeString("₦₦₦₦₦", 3))
	assert.Equal(t, "ab", SanitizeString("ab  cd", 3))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30&bad=x&big=500", nil)

	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 30, v)

	v, err = ParseQueryInt(req, "missing", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	_, err = ParseQueryInt(req, "bad", 25, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(req, "big", 25, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", value)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		return req.WithContext(contextWithRoute(req, rctx))
	}

	_, err := ParseUUIDParam(withParam("a3bb189e-8bf9-3888-9912-ace4e6543002"), "id")
	require.NoError(t, err)

	_, err = ParseUUIDParam(withParam("TLP-123"), "id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(withParam(""), "id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryDate(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := httptest.NewRequest(http.MethodGet, "/?from=2026-03-04&bad=04/03/2026", nil)

	got, err := ParseQueryDate(req, "from", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseQueryDate(req, "to", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	_, err = ParseQueryDate(req, "bad", fallback)
	assert.Error(t, err)
}

func contextWithRoute(r *http.Request, rctx *chi.Context) context.Context {
	return context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
}
