package outbox

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{"version":1,"eventId":"` + id.String() + `","occurredAt":"2026-01-02T03:04:05Z","data":{"amount":"12.50"}}`)

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	parsed, err := env.ParsedEventID()
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	var data struct {
		Amount string `json:"amount"`
	}
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "12.50", data.Amount)
}

func TestDecodeEnvelopeRejectsMalformedInput(t *testing.T) {
	id := uuid.NewString()
	cases := map[string]struct {
		raw    string
		target error
	}{
		"future version": {raw: `{"version":2,"eventId":"` + id + `","data":{}}`, target: ErrEnvelopeVersion},
		"null data":      {raw: `{"version":1,"eventId":"` + id + `","data":null}`, target: ErrEmptyEventData},
		"missing data":   {raw: `{"version":1,"eventId":"` + id + `"}`, target: ErrEmptyEventData},
		"bad event id":   {raw: `{"version":1,"eventId":"evt-1","data":{}}`},
		"not json":       {raw: `{"version":`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.raw))
			require.Error(t, err)
			if tc.target != nil {
				assert.True(t, errors.Is(err, tc.target), "got %v", err)
			}
		})
	}
}
