package models

// CalendarConfig describes the weekly slot universe.
type CalendarConfig struct {
	ActiveDays    []int `json:"active_days"`
	PeriodsPerDay int   `json:"periods_per_day"`
	BreakPeriods  []int `json:"break_periods"`
}

// TimeSlot is one period of one weekday. Slots are generated once per
// calendar configuration and never mutated afterwards.
type TimeSlot struct {
	ID          int  `db:"id" json:"id"`
	DayIndex    int  `db:"day_index" json:"day_index"`
	PeriodIndex int  `db:"period_index" json:"period_index"`
	IsBreak     bool `db:"is_break" json:"is_break"`
}

// SlotID derives the deterministic slot identifier for a day/period pair.
// The same configuration always yields the same IDs, so constraint indices
// are reproducible across runs.
func SlotID(dayIndex, periodIndex, periodsPerDay int) int {
	return dayIndex*periodsPerDay + periodIndex
}

var dayIndexMap = map[int]string{
	0: "MONDAY",
	1: "TUESDAY",
	2: "WEDNESDAY",
	3: "THURSDAY",
	4: "FRIDAY",
	5: "SATURDAY",
	6: "SUNDAY",
}

var dayNameIndex = map[string]int{
	"MONDAY":    0,
	"TUESDAY":   1,
	"WEDNESDAY": 2,
	"THURSDAY":  3,
	"FRIDAY":    4,
	"SATURDAY":  5,
	"SUNDAY":    6,
}

// DayName maps a zero-based day index to its canonical name.
func DayName(day int) string {
	if name, ok := dayIndexMap[day]; ok {
		return name
	}
	return "MONDAY"
}

// DayIndex maps a canonical day name back to its zero-based index, -1 when unknown.
func DayIndex(name string) int {
	if idx, ok := dayNameIndex[name]; ok {
		return idx
	}
	return -1
}
