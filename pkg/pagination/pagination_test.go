package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 10, NormalizeLimit(10))
	assert.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC), ID: uuid.New()}
	got, err := ParseCursor(EncodeCursor(want))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseCursor("not base64!")
	assert.Error(t, err)
}

func TestTrimBuildsNextCursor(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []Cursor{
		{CreatedAt: base, ID: uuid.New()},
		{CreatedAt: base.Add(time.Minute), ID: uuid.New()},
		{CreatedAt: base.Add(2 * time.Minute), ID: uuid.New()},
	}
	identity := func(c Cursor) Cursor { return c }

	page := Trim(rows, 2, identity)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	next, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, rows[1].ID, next.ID)

	last := Trim(rows, 5, identity)
	assert.Len(t, last.Items, 3)
	assert.Empty(t, last.NextCursor)
}

func TestParseCursorRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y", "enoueHl6"} {
		_, err := ParseCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestCursorWhere(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ID: uuid.New()}
	clause, args := c.Where()
	assert.Contains(t, clause, "created_at > ?")
	require.Len(t, args, 3)
	assert.Equal(t, c.ID, args[2])
}
