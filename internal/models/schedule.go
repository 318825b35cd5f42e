package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ScheduleStatus represents lifecycle phases for generated schedules.
type ScheduleStatus string

const (
	ScheduleStatusDraft    ScheduleStatus = "DRAFT"
	ScheduleStatusActive   ScheduleStatus = "ACTIVE"
	ScheduleStatusArchived ScheduleStatus = "ARCHIVED"
)

// Assignment places one course hour into one time slot.
type Assignment struct {
	CourseID int `db:"course_id" json:"course_id"`
	SlotID   int `db:"slot_id" json:"slot_id"`
}

// Modification is one accepted edit recorded on the schedule version it
// produced. The log makes every historical state replayable.
type Modification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CourseID  int       `json:"course_id"`
	FromSlot  *int      `json:"from_slot,omitempty"`
	ToSlot    *int      `json:"to_slot,omitempty"`
	AppliedBy string    `json:"applied_by,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Schedule is an immutable timetable version. Edits never touch an existing
// record; they produce a new version whose BaseScheduleID points at the
// previous one. At most one schedule per tenant is ACTIVE.
type Schedule struct {
	ID                 string         `db:"id" json:"id"`
	TenantID           string         `db:"tenant_id" json:"tenant_id"`
	BaseScheduleID     *string        `db:"base_schedule_id" json:"base_schedule_id,omitempty"`
	Version            int            `db:"version" json:"version"`
	Status             ScheduleStatus `db:"status" json:"status"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	Assignments        []Assignment   `json:"assignments"`
	QualityScore       uint8          `db:"quality_score" json:"quality_score"`
	Unscheduled        []int          `json:"unscheduled_courses,omitempty"`
	RelaxationsApplied []string       `json:"relaxations_applied,omitempty"`
	Modifications      []Modification `json:"modifications,omitempty"`
	Meta               types.JSONText `db:"meta" json:"meta,omitempty"`
}

// AssignmentsByCourse groups the flat assignment list into course slot sets.
func (s *Schedule) AssignmentsByCourse() map[int][]int {
	result := make(map[int][]int)
	for _, a := range s.Assignments {
		result[a.CourseID] = append(result[a.CourseID], a.SlotID)
	}
	return result
}

// ConflictDimension names the entity axis a conflict occurred on.
type ConflictDimension string

const (
	ConflictDimensionClass   ConflictDimension = "CLASS"
	ConflictDimensionTeacher ConflictDimension = "TEACHER"
)

// Conflict describes a collision that rejected a modification.
type Conflict struct {
	Dimension       ConflictDimension `json:"dimension"`
	EntityID        int               `json:"entity_id"`
	SlotID          int               `json:"slot_id"`
	CollidingCourse int               `json:"colliding_course"`
}

// ScheduleConflictError is returned when an edit collides with the current
// occupancy of the active schedule.
type ScheduleConflictError struct {
	Message   string     `json:"message"`
	Conflicts []Conflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
