package slot

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	cases := map[string]string{
		"9:00":     "09:00",
		"09:00":    "09:00",
		"10:00:00": "10:00",
		" 17:45 ":  "17:45",
	}
	for in, want := range cases {
		got, err := NormalizeTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "10", "25:00", "10:7", "ten:00", "10:00:99", "1:2:3:4"} {
		_, err := NormalizeTime(bad)
		assert.ErrorIs(t, err, ErrInvalidTime, bad)
	}
}

func TestRefEqualityIgnoresClockAndZone(t *testing.T) {
	dentist := uuid.New()
	a, err := NewRef(dentist, time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC), "10:00")
	require.NoError(t, err)

	est := time.FixedZone("EST", -5*3600)
	b, err := NewRef(dentist, time.Date(2025, 11, 3, 15, 30, 0, 0, est), "10:00:00")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "2025-11-03", b.DateString())
}

func TestNormalizeSlots(t *testing.T) {
	out, err := NormalizeSlots([]TimeSlot{
		{Start: "9:00", End: "9:30", Available: true},
		{Start: "09:30", End: "10:00:00", Available: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []TimeSlot{
		{Start: "09:00", End: "09:30", Available: true},
		{Start: "09:30", End: "10:00", Available: false},
	}, out)

	_, err = NormalizeSlots(nil)
	assert.ErrorIs(t, err, ErrAvailabilityEmpty)

	_, err = NormalizeSlots([]TimeSlot{
		{Start: "09:00", End: "09:30"},
		{Start: "9:00", End: "10:00"},
	})
	assert.ErrorIs(t, err, ErrInvalidSlots)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-11-03")
	require.NoError(t, err)
	assert.Equal(t, time.November, d.Month())

	_, err = ParseDate("11/03/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
}
