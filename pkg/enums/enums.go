// Package enums holds the string enums that Postgres columns and outbox
// payloads share.
package enums

import (
	"fmt"
	"slices"
)

// parse accepts value only when it spells a member of known exactly.
func parse[T ~string](kind, value string, known []T) (T, error) {
	if i := slices.Index(known, T(value)); i >= 0 {
		return known[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
