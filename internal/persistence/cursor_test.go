package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fittrack/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{
		Date:      time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2026, time.March, 4, 18, 30, 12, 500, time.UTC),
		ID:        "a1b2",
	}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.Date.Equal(out.Date))
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmptyAndInvalid(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeCursor("not base64 !!")
	require.Error(t, err)

	_, err = DecodeCursor(EncodeCursor(nil) + "Zm9v")
	require.Error(t, err)

	require.Empty(t, EncodeCursor(nil))
}
