package services

import (
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
)

func TestTodayIn_UsesTheLocationCalendarDate(t *testing.T) {
	// 22:00 UTC is already the next morning in Kolkata (+05:30).
	patches := gomonkey.ApplyFunc(time.Now, func() time.Time {
		return FixedTime.Add(-2 * time.Hour)
	})
	defer patches.Reset()

	kolkata, err := time.LoadLocation("Asia/Kolkata")
	assert.NoError(t, err)

	assert.Equal(t, time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC), todayIn(kolkata))
	assert.Equal(t, time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC), todayIn(time.UTC))
}

func TestAppLocation(t *testing.T) {
	t.Run("defaults to Asia/Kolkata", func(t *testing.T) {
		t.Setenv("CAL_TIMEZONE", "")
		assert.Equal(t, "Asia/Kolkata", appLocation().String())
	})

	t.Run("honors CAL_TIMEZONE", func(t *testing.T) {
		t.Setenv("CAL_TIMEZONE", "Europe/Berlin")
		assert.Equal(t, "Europe/Berlin", appLocation().String())
	})

	t.Run("unknown zone falls back to UTC", func(t *testing.T) {
		t.Setenv("CAL_TIMEZONE", "Mars/Olympus_Mons")
		assert.Equal(t, time.UTC, appLocation())
	})
}
