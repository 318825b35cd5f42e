package dto

import "github.com/noah-isme/sma-timetable-api/internal/models"

// MoveRequest relocates one course hour between slots on the active schedule.
type MoveRequest struct {
	TenantID        string `json:"tenantId" validate:"required"`
	ExpectedVersion int    `json:"expectedVersion" validate:"min=0"`
	CourseID        int    `json:"courseId" validate:"min=0"`
	FromSlot        int    `json:"fromSlot" validate:"min=0"`
	ToSlot          int    `json:"toSlot" validate:"min=0"`
}

// AddRequest places one extra hour of a course into a slot.
type AddRequest struct {
	TenantID        string `json:"tenantId" validate:"required"`
	ExpectedVersion int    `json:"expectedVersion" validate:"min=0"`
	CourseID        int    `json:"courseId" validate:"min=0"`
	SlotID          int    `json:"slotId" validate:"min=0"`
}

// RemoveRequest drops one hour of a course from a slot.
type RemoveRequest struct {
	TenantID        string `json:"tenantId" validate:"required"`
	ExpectedVersion int    `json:"expectedVersion" validate:"min=0"`
	CourseID        int    `json:"courseId" validate:"min=0"`
	SlotID          int    `json:"slotId" validate:"min=0"`
}

// ApplyFixRequest executes an analyzer-suggested fix action.
type ApplyFixRequest struct {
	TenantID        string           `json:"tenantId" validate:"required"`
	ExpectedVersion int              `json:"expectedVersion" validate:"min=0"`
	FixAction       models.FixAction `json:"fixAction" validate:"required"`
	CourseID        int              `json:"courseId" validate:"min=0"`
	SlotID          int              `json:"slotId" validate:"min=0"`
}

// ModificationRejection is the typed refusal of an edit: the precise conflict
// list plus up to five ranked alternative slots. The stored schedule is
// untouched when this is returned.
type ModificationRejection struct {
	Conflicts    []models.Conflict `json:"conflicts"`
	Alternatives []int             `json:"alternatives,omitempty"`
}
