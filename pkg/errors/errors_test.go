package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryCodeHasMetadata(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
		CodeStateConflict, CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency,
		CodeUpstreamUnavailable, CodeUnmatched, CodeInvariantViolation, CodeMissingPayoutDestination,
	}
	for _, code := range codes {
		_, ok := metadataByCode[code]
		assert.True(t, ok, "no metadata for %s", code)
	}
	assert.Len(t, metadataByCode, len(codes))
}

func TestSettlementCodesMapToHTTP(t *testing.T) {
	cases := map[Code]struct {
		status    int
		retryable bool
		details   bool
	}{
		CodeUpstreamUnavailable:      {http.StatusServiceUnavailable, true, false},
		CodeUnmatched:                {http.StatusAccepted, false, true},
		CodeInvariantViolation:       {http.StatusInternalServerError, false, true},
		CodeMissingPayoutDestination: {http.StatusUnprocessableEntity, false, false},
		CodeStateConflict:            {http.StatusUnprocessableEntity, false, true},
		CodeIdempotency:              {http.StatusConflict, false, true},
	}
	for code, want := range cases {
		meta := MetadataFor(code)
		assert.Equal(t, want.status, meta.HTTPStatus, code)
		assert.Equal(t, want.retryable, meta.Retryable, code)
		assert.Equal(t, want.details, meta.DetailsAllowed, code)
		assert.NotEmpty(t, meta.PublicMessage, code)
	}
}

func TestUnknownCodeIsInternal(t *testing.T) {
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorStringIncludesCause(t *testing.T) {
	plain := Newf(CodeNotFound, "transaction %s not found", "TLP-ABCDEFGHJKLM")
	assert.Equal(t, "NOT_FOUND: transaction TLP-ABCDEFGHJKLM not found", plain.Error())

	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "load transaction")
	assert.Equal(t, "DEPENDENCY_ERROR: load transaction: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "load transaction", wrapped.Message())

	assert.Nil(t, Wrap(CodeDependency, nil, "no cause").Unwrap())
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "bad input").WithDetails(map[string]string{"amount": "must be positive"})
	assert.Equal(t, map[string]string{"amount": "must be positive"}, err.Details())

	var nilErr *Error
	assert.Nil(t, nilErr.WithDetails("x"))
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Empty(t, nilErr.Error())
}

func TestCodeLookupThroughWrapping(t *testing.T) {
	err := fmt.Errorf("payout %s: %w", "TLP-ABCDEFGHJKLM", New(CodeMissingPayoutDestination, "no bank"))

	require.NotNil(t, As(err))
	assert.Equal(t, CodeMissingPayoutDestination, CodeOf(err))
	assert.True(t, IsCode(err, CodeMissingPayoutDestination))
	assert.False(t, IsCode(err, CodeNotFound))

	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.Nil(t, As(nil))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestAsFindsOutermostTypedError(t *testing.T) {
	inner := New(CodeNotFound, "missing")
	outer := Wrap(CodeDependency, inner, "lookup")
	assert.Equal(t, CodeDependency, CodeOf(outer))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(New(CodeUpstreamUnavailable, "paystack 502")))
	assert.False(t, Retryable(New(CodeValidation, "bad")))
	assert.True(t, Retryable(stdErrors.New("untyped")), "untyped errors are treated as internal")

	deadlock := Wrap(CodeStateConflict, &pgconn.PgError{Code: "40P01"}, "release escrow")
	assert.True(t, Retryable(deadlock), "transient database faults override the code")
}
