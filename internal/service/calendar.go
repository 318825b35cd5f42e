package service

import (
	"sort"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// GenerateCalendar expands a calendar configuration into the fixed weekly
// slot universe. Pure and deterministic: the same configuration always yields
// the same slots with the same IDs.
func GenerateCalendar(cfg models.CalendarConfig) []models.TimeSlot {
	days := normalizeDays(cfg.ActiveDays)
	breaks := make(map[int]bool, len(cfg.BreakPeriods))
	for _, p := range cfg.BreakPeriods {
		breaks[p] = true
	}

	slots := make([]models.TimeSlot, 0, len(days)*cfg.PeriodsPerDay)
	for _, day := range days {
		for period := 0; period < cfg.PeriodsPerDay; period++ {
			slots = append(slots, models.TimeSlot{
				ID:          models.SlotID(day, period, cfg.PeriodsPerDay),
				DayIndex:    day,
				PeriodIndex: period,
				IsBreak:     breaks[period],
			})
		}
	}
	return slots
}

func normalizeDays(days []int) []int {
	unique := make(map[int]struct{})
	for _, day := range days {
		if day < 0 || day > 6 {
			continue
		}
		unique[day] = struct{}{}
	}
	result := make([]int, 0, len(unique))
	for day := range unique {
		result = append(result, day)
	}
	sort.Ints(result)
	return result
}

// slotIndex provides day/period lookups over a generated slot universe.
type slotIndex struct {
	byID    map[int]models.TimeSlot
	byDay   map[int][]models.TimeSlot
	days    []int
	periods int
}

func newSlotIndex(slots []models.TimeSlot) *slotIndex {
	idx := &slotIndex{
		byID:  make(map[int]models.TimeSlot, len(slots)),
		byDay: make(map[int][]models.TimeSlot),
	}
	seen := make(map[int]bool)
	for _, slot := range slots {
		idx.byID[slot.ID] = slot
		idx.byDay[slot.DayIndex] = append(idx.byDay[slot.DayIndex], slot)
		if !seen[slot.DayIndex] {
			seen[slot.DayIndex] = true
			idx.days = append(idx.days, slot.DayIndex)
		}
		if slot.PeriodIndex+1 > idx.periods {
			idx.periods = slot.PeriodIndex + 1
		}
	}
	sort.Ints(idx.days)
	for day := range idx.byDay {
		daySlots := idx.byDay[day]
		sort.Slice(daySlots, func(i, j int) bool { return daySlots[i].PeriodIndex < daySlots[j].PeriodIndex })
	}
	return idx
}

// teachable counts the non-break slots in the universe.
func (idx *slotIndex) teachable() int {
	count := 0
	for _, slot := range idx.byID {
		if !slot.IsBreak {
			count++
		}
	}
	return count
}
