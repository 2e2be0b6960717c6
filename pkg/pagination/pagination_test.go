package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	for in, want := range map[int]int{0: DefaultLimit, -5: DefaultLimit, 10: 10, MaxLimit: MaxLimit, 1000: MaxLimit} {
		assert.Equal(t, want, NormalizeLimit(in), "limit %d", in)
	}
	assert.Equal(t, DefaultLimit+1, LimitWithBuffer(0))
}

func TestCursorSurvivesEncoding(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 123, time.FixedZone("CET", 3600)), ID: uuid.New()}

	got, err := ParseCursor(EncodeCursor(want))
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
	assert.Equal(t, want.ID, got.ID)

	padded, err := ParseCursor(EncodeCursor(want) + "==")
	require.NoError(t, err)
	assert.Equal(t, want.ID, padded.ID)
}

func TestParseCursorBlankMeansFirstPage(t *testing.T) {
	c, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{
		"!!not-base64!!",
		EncodeCursor(Cursor{})[:4],
		"bm8tc2VwYXJhdG9y",     // "no-separator"
		"MjAyNnxub3QtYS11dWlk", // "2026|not-a-uuid"
	} {
		_, err := ParseCursor(token)
		assert.ErrorIs(t, err, errMalformedCursor, "token %q", token)
	}
}

func TestTrimKeepsPageAndPointsAtLastRow(t *testing.T) {
	type row struct {
		at time.Time
		id uuid.UUID
	}
	now := time.Now().UTC()
	rows := []row{{now, uuid.New()}, {now.Add(-time.Second), uuid.New()}, {now.Add(-2 * time.Second), uuid.New()}}
	position := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 2, position)
	assert.Len(t, page, 2)
	require.NotNil(t, next)
	assert.Equal(t, rows[1].id, next.ID)

	page, next = Trim(rows, 3, position)
	assert.Len(t, page, 3)
	assert.Nil(t, next)
}
