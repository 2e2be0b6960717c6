package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the envelope layout written by Emit. Readers accept any
// version up to it.
const EnvelopeVersion = 1

var (
	ErrEnvelopeVersion = errors.New("unsupported envelope version")
	ErrEmptyEventData  = errors.New("envelope data is empty")
)

// ActorRef identifies who produced the event. System jobs leave UserID zero.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Source string    `json:"source,omitempty"`
}

// PayloadEnvelope is the body of every feed message and outbox row.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored or delivered envelope and checks that it
// carries an event id, a known version and a data payload.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 0 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("%w: %d", ErrEnvelopeVersion, env.Version)
	}
	if _, err := env.ParsedEventID(); err != nil {
		return env, fmt.Errorf("envelope event id: %w", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, ErrEmptyEventData
	}
	return env, nil
}

// ParsedEventID returns the envelope event id as a UUID.
func (e PayloadEnvelope) ParsedEventID() (uuid.UUID, error) {
	return uuid.Parse(e.EventID)
}

// DecodeData unmarshals the event payload into dest.
func (e PayloadEnvelope) DecodeData(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}
