package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

func TestGenerateCalendarBuildsFullWeekUniverse(t *testing.T) {
	cfg := models.CalendarConfig{
		ActiveDays:    []int{0, 1, 2, 3, 4},
		PeriodsPerDay: 8,
		BreakPeriods:  []int{3},
	}

	slots := GenerateCalendar(cfg)
	require.Len(t, slots, 40)

	breaks := 0
	for _, slot := range slots {
		assert.Equal(t, models.SlotID(slot.DayIndex, slot.PeriodIndex, cfg.PeriodsPerDay), slot.ID)
		if slot.IsBreak {
			breaks++
			assert.Equal(t, 3, slot.PeriodIndex)
		}
	}
	assert.Equal(t, 5, breaks)
}

func TestGenerateCalendarNormalizesDays(t *testing.T) {
	cfg := models.CalendarConfig{
		ActiveDays:    []int{4, 0, 0, 2, -1, 9},
		PeriodsPerDay: 2,
	}

	slots := GenerateCalendar(cfg)
	require.Len(t, slots, 6)
	assert.Equal(t, 0, slots[0].DayIndex)
	assert.Equal(t, 2, slots[2].DayIndex)
	assert.Equal(t, 4, slots[4].DayIndex)
}

func TestGenerateCalendarIsDeterministic(t *testing.T) {
	cfg := models.CalendarConfig{
		ActiveDays:    []int{0, 1, 2, 3, 4, 5},
		PeriodsPerDay: 6,
		BreakPeriods:  []int{2, 4},
	}

	assert.Equal(t, GenerateCalendar(cfg), GenerateCalendar(cfg))
}

func TestSlotIndexLookups(t *testing.T) {
	cfg := models.CalendarConfig{
		ActiveDays:    []int{0, 1},
		PeriodsPerDay: 4,
		BreakPeriods:  []int{1},
	}
	idx := newSlotIndex(GenerateCalendar(cfg))

	assert.Equal(t, []int{0, 1}, idx.days)
	assert.Equal(t, 4, idx.periods)
	assert.Equal(t, 6, idx.teachable())

	daySlots := idx.byDay[1]
	require.Len(t, daySlots, 4)
	for i, slot := range daySlots {
		assert.Equal(t, i, slot.PeriodIndex)
	}

	slot, ok := idx.byID[models.SlotID(1, 2, cfg.PeriodsPerDay)]
	require.True(t, ok)
	assert.Equal(t, 1, slot.DayIndex)
	assert.Equal(t, 2, slot.PeriodIndex)
}
