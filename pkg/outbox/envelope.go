package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// EnvelopeVersion is the schema written by Emit. Version 0 is read as 1;
// early rows were written without the field.
const EnvelopeVersion = 1

var (
	ErrEnvelopeMalformed = errors.New("outbox envelope malformed")
	ErrEnvelopeVersion   = errors.New("outbox envelope version unsupported")
	ErrEnvelopeEmpty     = errors.New("outbox envelope has no data")
)

// ActorRef identifies who produced the event. System jobs leave UserID nil.
type ActorRef struct {
	UserID uuid.UUID      `json:"userId"`
	Role   enums.UserRole `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body. Data carries the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a message body and rejects envelopes from a newer
// writer or without data. Every returned error wraps one of the ErrEnvelope
// sentinels; none of them is worth retrying.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: %v", ErrEnvelopeMalformed, err)
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.Version > EnvelopeVersion {
		return PayloadEnvelope{}, fmt.Errorf("%w: %d", ErrEnvelopeVersion, env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrEnvelopeEmpty
	}
	return env, nil
}

// ID parses EventID. Consumers key their dedupe on it.
func (e PayloadEnvelope) ID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: event id: %v", ErrEnvelopeMalformed, err)
	}
	return id, nil
}

// DecodeData unmarshals Data into dest.
func (e PayloadEnvelope) DecodeData(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("%w: data: %v", ErrEnvelopeMalformed, err)
	}
	return nil
}
