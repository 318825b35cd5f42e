package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConstraintKind tags user-entered calendar rules. Each kind carries its own
// typed payload, validated once at decode time.
type ConstraintKind string

const (
	ConstraintExcludedSlot       ConstraintKind = "EXCLUDED_SLOT"
	ConstraintGradeCutoff        ConstraintKind = "GRADE_CUTOFF"
	ConstraintTeacherUnavailable ConstraintKind = "TEACHER_UNAVAILABLE"
	ConstraintPinnedAssignment   ConstraintKind = "PINNED_ASSIGNMENT"
)

// ExcludedSlotRule blocks a calendar slot for everyone (holiday, assembly).
type ExcludedSlotRule struct {
	DayIndex    int `json:"day_index"`
	PeriodIndex int `json:"period_index"`
}

// GradeCutoffRule forbids a grade's courses after a period on a named day.
type GradeCutoffRule struct {
	Grade       int `json:"grade"`
	DayIndex    int `json:"day_index"`
	AfterPeriod int `json:"after_period"`
}

// TeacherUnavailableRule blocks one teacher for a day/period window.
type TeacherUnavailableRule struct {
	TeacherID  int `json:"teacher_id"`
	DayIndex   int `json:"day_index"`
	FromPeriod int `json:"from_period"`
	ToPeriod   int `json:"to_period"`
}

// PinnedAssignmentRule fixes one hour of a course to a concrete slot.
type PinnedAssignmentRule struct {
	CourseID int `json:"course_id"`
	SlotID   int `json:"slot_id"`
}

// Constraint is the persisted, tagged rule row. Exactly one payload field is
// set, matching Kind.
type Constraint struct {
	ID        string         `db:"id" json:"id"`
	TenantID  string         `db:"tenant_id" json:"tenant_id"`
	Kind      ConstraintKind `db:"kind" json:"kind"`
	Payload   []byte         `db:"payload" json:"-"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`

	ExcludedSlot       *ExcludedSlotRule       `json:"excluded_slot,omitempty"`
	GradeCutoff        *GradeCutoffRule        `json:"grade_cutoff,omitempty"`
	TeacherUnavailable *TeacherUnavailableRule `json:"teacher_unavailable,omitempty"`
	PinnedAssignment   *PinnedAssignmentRule   `json:"pinned_assignment,omitempty"`
}

// DecodeConstraint validates the payload against the declared kind and fills
// the matching typed field. Invalid rules are rejected here, once, instead of
// being re-checked ad hoc by every consumer.
func DecodeConstraint(c *Constraint) error {
	if c == nil {
		return fmt.Errorf("constraint is nil")
	}
	switch c.Kind {
	case ConstraintExcludedSlot:
		var rule ExcludedSlotRule
		if err := json.Unmarshal(c.Payload, &rule); err != nil {
			return fmt.Errorf("decode excluded slot rule: %w", err)
		}
		if rule.DayIndex < 0 || rule.PeriodIndex < 0 {
			return fmt.Errorf("excluded slot rule: day and period must be non-negative")
		}
		c.ExcludedSlot = &rule
	case ConstraintGradeCutoff:
		var rule GradeCutoffRule
		if err := json.Unmarshal(c.Payload, &rule); err != nil {
			return fmt.Errorf("decode grade cutoff rule: %w", err)
		}
		if rule.Grade <= 0 {
			return fmt.Errorf("grade cutoff rule: grade must be positive")
		}
		if rule.AfterPeriod < 0 {
			return fmt.Errorf("grade cutoff rule: after_period must be non-negative")
		}
		c.GradeCutoff = &rule
	case ConstraintTeacherUnavailable:
		var rule TeacherUnavailableRule
		if err := json.Unmarshal(c.Payload, &rule); err != nil {
			return fmt.Errorf("decode teacher unavailable rule: %w", err)
		}
		if rule.ToPeriod < rule.FromPeriod {
			return fmt.Errorf("teacher unavailable rule: to_period before from_period")
		}
		c.TeacherUnavailable = &rule
	case ConstraintPinnedAssignment:
		var rule PinnedAssignmentRule
		if err := json.Unmarshal(c.Payload, &rule); err != nil {
			return fmt.Errorf("decode pinned assignment rule: %w", err)
		}
		if rule.SlotID < 0 {
			return fmt.Errorf("pinned assignment rule: slot_id must be non-negative")
		}
		c.PinnedAssignment = &rule
	default:
		return fmt.Errorf("unsupported constraint kind: %s", c.Kind)
	}
	return nil
}
