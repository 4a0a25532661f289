package services

import (
	"testing"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerateOccurrences_WeeklySequence(t *testing.T) {
	series := &model.Series{
		IntervalUnit:         model.IntervalWeek,
		IntervalCount:        1,
		TriggerDaysBeforeDue: 3,
		AnchorDueDate:        date(2025, time.January, 10),
	}

	got := GenerateOccurrences(series, 3, 180)

	assert.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, date(2025, time.January, 10), got[0].DueDate)
	assert.Equal(t, date(2025, time.January, 7), got[0].StartDate)
	assert.Equal(t, date(2025, time.January, 17), got[1].DueDate)
	assert.Equal(t, date(2025, time.January, 24), got[2].DueDate)
	assert.Equal(t, date(2025, time.January, 21), got[2].StartDate)
}

func TestGenerateOccurrences_IntervalCount(t *testing.T) {
	series := &model.Series{
		IntervalUnit:  model.IntervalWeek,
		IntervalCount: 2,
		AnchorDueDate: date(2025, time.January, 10),
	}

	got := GenerateOccurrences(series, 2, 180)

	assert.Len(t, got, 2)
	assert.Equal(t, date(2025, time.January, 24), got[1].DueDate)
}

func TestGenerateOccurrences_MonthEndClamps(t *testing.T) {
	series := &model.Series{
		IntervalUnit:  model.IntervalMonth,
		IntervalCount: 1,
		AnchorDueDate: date(2025, time.January, 31),
	}

	got := GenerateOccurrences(series, 3, 180)

	assert.Len(t, got, 3)
	assert.Equal(t, date(2025, time.January, 31), got[0].DueDate)
	// January 31 plus one month clamps to the end of February.
	assert.Equal(t, date(2025, time.February, 28), got[1].DueDate)
	// Advancing is chained from the previous due date, so the sequence
	// stays on the 28th from here on.
	assert.Equal(t, date(2025, time.March, 28), got[2].DueDate)
}

func TestGenerateOccurrences_LeapYearClamps(t *testing.T) {
	series := &model.Series{
		IntervalUnit:  model.IntervalYear,
		IntervalCount: 1,
		AnchorDueDate: date(2024, time.February, 29),
	}

	got := GenerateOccurrences(series, 2, 180)

	assert.Len(t, got, 2)
	assert.Equal(t, date(2025, time.February, 28), got[1].DueDate)
}

func TestGenerateOccurrences_WatermarkSkipsGenerated(t *testing.T) {
	series := &model.Series{
		IntervalUnit:     model.IntervalMonth,
		IntervalCount:    1,
		AnchorDueDate:    date(2025, time.January, 31),
		LastGeneratedDue: date(2025, time.February, 28),
	}

	got := GenerateOccurrences(series, 3, 180)

	// Only the occurrence past the watermark remains, and it keeps its
	// position in the full sequence.
	assert.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Index)
	assert.Equal(t, date(2025, time.March, 28), got[0].DueDate)

	// With the watermark caught up, regeneration yields nothing.
	series.LastGeneratedDue = date(2025, time.March, 28)
	assert.Empty(t, GenerateOccurrences(series, 3, 180))
}

func TestGenerateOccurrences_TriggerLeadClamp(t *testing.T) {
	series := &model.Series{
		IntervalUnit:         model.IntervalYear,
		IntervalCount:        1,
		TriggerDaysBeforeDue: 400,
		AnchorDueDate:        date(2025, time.June, 30),
	}

	got := GenerateOccurrences(series, 1, 180)

	assert.Len(t, got, 1)
	assert.Equal(t, date(2025, time.June, 30).AddDate(0, 0, -180), got[0].StartDate)
}

func TestGenerateOccurrences_NegativeTriggerFloorsAtDue(t *testing.T) {
	series := &model.Series{
		IntervalUnit:         model.IntervalDay,
		IntervalCount:        1,
		TriggerDaysBeforeDue: -5,
		AnchorDueDate:        date(2025, time.June, 30),
	}

	got := GenerateOccurrences(series, 1, 180)

	assert.Len(t, got, 1)
	assert.Equal(t, got[0].DueDate, got[0].StartDate)
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"plain month", date(2025, time.April, 15), 1, date(2025, time.May, 15)},
		{"into shorter month", date(2025, time.March, 31), 1, date(2025, time.April, 30)},
		{"into february", date(2025, time.January, 30), 1, date(2025, time.February, 28)},
		{"leap february", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"across year boundary", date(2025, time.November, 30), 3, date(2026, time.February, 28)},
		{"quarterly", date(2025, time.January, 31), 3, date(2025, time.April, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, addMonthsClamped(tt.from, tt.months))
		})
	}
}
