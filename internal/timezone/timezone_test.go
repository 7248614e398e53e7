package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/booking-engine/pkg/errors"
)

func TestLoadRejectsUnknownZones(t *testing.T) {
	for _, tz := range []string{"", "Local", "Mars/Olympus_Mons", "Not A Zone"} {
		_, err := Load(tz)
		require.Error(t, err, tz)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTimezone), tz)
	}
}

func TestRoundTrip(t *testing.T) {
	instant := time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC)

	local, err := ToLocal(instant, "America/Sao_Paulo")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T09:30:00", local)

	back, err := ToInstant(local, "America/Sao_Paulo")
	require.NoError(t, err)
	assert.True(t, back.Equal(instant))
}

func TestToInstantAcceptsShortLayoutsAndOffsets(t *testing.T) {
	got, err := ToInstant("2024-07-01 09:00", "Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 7, 0, 0, 0, time.UTC), got)

	got, err = ToInstant("2024-07-01T09:00:00+02:00", "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 7, 0, 0, 0, time.UTC), got)

	_, err = ToInstant("yesterday", "UTC")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
}

func TestToInstantInvalidTimezone(t *testing.T) {
	_, err := ToInstant("2024-07-01T09:00:00", "Nowhere/City")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidTimezone))
}

func TestDSTShiftsOffsetNotCivilTime(t *testing.T) {
	before, err := ToInstant("2024-03-09T09:00:00", "America/New_York")
	require.NoError(t, err)
	after, err := ToInstant("2024-03-11T09:00:00", "America/New_York")
	require.NoError(t, err)

	assert.Equal(t, 14, before.Hour())
	assert.Equal(t, 13, after.Hour())
}

func TestResolveFallsBack(t *testing.T) {
	name, loc, ok := Resolve("Bogus/Zone", "Europe/Paris")
	assert.False(t, ok)
	assert.Equal(t, "Europe/Paris", name)
	assert.Equal(t, "Europe/Paris", loc.String())

	name, _, ok = Resolve("bad", "worse")
	assert.False(t, ok)
	assert.Equal(t, DefaultTimezone, name)

	name, _, ok = Resolve("Asia/Tokyo", "UTC")
	assert.True(t, ok)
	assert.Equal(t, "Asia/Tokyo", name)
}

func TestListTimezones(t *testing.T) {
	list := ListTimezones(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Len(t, list, len(Supported))

	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].OffsetSeconds, list[i].OffsetSeconds)
	}

	var kolkata Info
	for _, info := range list {
		if info.Identifier == "Asia/Kolkata" {
			kolkata = info
		}
	}
	assert.Equal(t, "+05:30", kolkata.Offset)
	assert.Equal(t, "Kolkata", kolkata.Name)
	assert.Equal(t, "IST", kolkata.Abbreviation)
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:45")
	require.NoError(t, err)
	assert.Equal(t, 585, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}
