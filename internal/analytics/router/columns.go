package router

import (
	"strings"

	"github.com/google/uuid"
)

// BigQuery rows use NULL rather than "" or the nil uuid for absent values.

func idColumn(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func textColumn[S ~string](value S) *string {
	s := strings.TrimSpace(string(value))
	if s == "" {
		return nil
	}
	return &s
}

func koboColumn(amount int64) *int64 { return &amount }
