package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// classify turns any error into a typed one. Untyped errors become internal,
// except transient Postgres faults, which a client may safely retry.
func classify(err error) *pkgerrors.Error {
	if err == nil {
		err = errors.New("unknown error")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	code := pkgerrors.CodeInternal
	if pkgerrors.PGFaultOf(err).Transient() {
		code = pkgerrors.CodeDependency
	}
	return pkgerrors.Wrap(code, err, "unexpected error")
}

// Problem builds the status and body WriteError would send for err. Caller
// errors (anything below 500) carry their own message; server errors only the
// code's generic one.
func Problem(ctx context.Context, err error) (int, ErrorEnvelope) {
	typed := classify(err)
	meta := pkgerrors.MetadataFor(typed.Code())
	body := APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
		RequestID: RequestIDFromContext(ctx),
	}
	if m := typed.Message(); m != "" && meta.HTTPStatus < http.StatusInternalServerError {
		body.Message = m
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	return meta.HTTPStatus, ErrorEnvelope{Error: body}
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	status, envelope := Problem(ctx, err)
	if logg != nil {
		logFailure(ctx, logg, status, err)
	}
	writeJSON(w, status, envelope)
}

func logFailure(ctx context.Context, logg *logger.Logger, status int, err error) {
	fields := pkgerrors.Dump(err).Fields()
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if step, ok := details["step"]; ok {
				fields["step"] = step
			}
		}
	}
	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	// caller mistakes and state conflicts are expected traffic
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// headers are gone; nothing left to tell the client
		log.Printf("encode response: %v", err)
	}
}
