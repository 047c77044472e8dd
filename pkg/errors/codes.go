package errors

import "net/http"

// Code is the stable, client-visible classification of a failure.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Settlement outcomes.
	CodeUpstreamUnavailable      Code = "UPSTREAM_UNAVAILABLE"
	CodeUnmatched                Code = "UNMATCHED"
	CodeInvariantViolation       Code = "INVARIANT_VIOLATION"
	CodeMissingPayoutDestination Code = "MISSING_PAYOUT_DESTINATION"
)

// Metadata is how a Code surfaces over HTTP.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
	// PublicMessage replaces the internal message when details are not
	// allowed to reach the client.
	PublicMessage  string
	DetailsAllowed bool
}

const (
	final     = false
	retryable = true
	opaque    = false
	detailed  = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, final, "validation failed", detailed},
	CodeUnauthorized:  {http.StatusUnauthorized, final, "authentication required", opaque},
	CodeForbidden:     {http.StatusForbidden, final, "access denied", opaque},
	CodeNotFound:      {http.StatusNotFound, final, "resource not found", opaque},
	CodeConflict:      {http.StatusConflict, final, "conflict detected", opaque},
	CodeStateConflict: {http.StatusUnprocessableEntity, final, "state transition disallowed", detailed},
	CodeIdempotency:   {http.StatusConflict, final, "idempotency key reused", detailed},
	CodeRateLimit:     {http.StatusTooManyRequests, final, "rate limit exceeded", opaque},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", opaque},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", detailed},

	CodeUpstreamUnavailable: {http.StatusServiceUnavailable, retryable, "payment provider unavailable", opaque},
	// recorded durably; the sender is told it was accepted
	CodeUnmatched:                {http.StatusAccepted, final, "event recorded for review", detailed},
	CodeInvariantViolation:       {http.StatusInternalServerError, final, "operation not permitted in current state", detailed},
	CodeMissingPayoutDestination: {http.StatusUnprocessableEntity, final, "seller has no payout destination", opaque},
}

// MetadataFor treats unknown codes as internal errors.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}
