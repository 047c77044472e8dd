package analytics

import "time"

// EventTimestamp picks the time a settlement row is bucketed under.
// Order of preference is the payload time, then the envelope time, then fallback.
func EventTimestamp(payloadAt, envelopeAt time.Time, fallback time.Time) time.Time {
	if !payloadAt.IsZero() {
		return payloadAt.UTC()
	}
	if !envelopeAt.IsZero() {
		return envelopeAt.UTC()
	}
	return fallback.UTC()
}
