package paystack

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed gateway call by what the caller may safely do next.
type Kind int

const (
	// KindTransient failed before the gateway acted; retrying is safe.
	KindTransient Kind = iota + 1
	// KindRejected is a definitive refusal; the request will not succeed as is.
	KindRejected
	// KindAmbiguous may or may not have taken effect; verify before acting again.
	KindAmbiguous
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Error is the only error shape the client returns for gateway failures.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Message    string
	Body       string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("paystack %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paystack %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func kindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}

// IsTransient reports whether the failure happened before the gateway acted.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsRejected reports a definitive gateway refusal.
func IsRejected(err error) bool { return kindOf(err) == KindRejected }

// IsAmbiguous reports a failure whose effect on the gateway is unknown.
func IsAmbiguous(err error) bool { return kindOf(err) == KindAmbiguous }

// IsAlreadyRefunded recognises the gateway refusing a refund that was
// already issued for the transaction.
func IsAlreadyRefunded(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindRejected {
		return false
	}
	msg := strings.ToLower(gwErr.Message)
	return strings.Contains(msg, "fully reversed") || strings.Contains(msg, "already refunded")
}

// IsInsufficientBalance recognises a transfer refused for lack of funds.
func IsInsufficientBalance(err error) bool {
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindRejected {
		return false
	}
	return strings.Contains(strings.ToLower(gwErr.Message), "balance is not enough")
}
