package models

// IssueSeverity orders issues by how badly they degrade a timetable.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "CRITICAL"
	SeverityHigh     IssueSeverity = "HIGH"
	SeverityMedium   IssueSeverity = "MEDIUM"
	SeverityLow      IssueSeverity = "LOW"
)

// IssueKind enumerates the analyzer detectors.
type IssueKind string

const (
	IssueHardViolation        IssueKind = "HARD_VIOLATION"
	IssueGap                  IssueKind = "GAP"
	IssueIsolatedHour         IssueKind = "ISOLATED_HOUR"
	IssueExcessiveAmplitude   IssueKind = "EXCESSIVE_AMPLITUDE"
	IssueOverload             IssueKind = "OVERLOAD"
	IssueWeeklyGap            IssueKind = "WEEKLY_GAP"
	IssueLateDifficultSubject IssueKind = "LATE_DIFFICULT_SUBJECT"
)

// FixAction is a structured descriptor the modification engine can apply.
type FixAction string

const (
	FixCompactTeacherDay FixAction = "compact_teacher_day"
	FixMergeToBlock      FixAction = "merge_to_block"
	FixMoveToMorning     FixAction = "move_to_morning"
)

// EntityRef points an issue at the entity it concerns.
type EntityRef struct {
	Kind string `json:"kind"` // "class" | "teacher" | "course"
	ID   int    `json:"id"`
}

// Issue is one quality or correctness finding on a solved schedule.
type Issue struct {
	Kind        IssueKind     `json:"kind"`
	Severity    IssueSeverity `json:"severity"`
	EntityRef   EntityRef     `json:"entity_ref"`
	Details     string        `json:"details"`
	Suggestion  string        `json:"suggestion,omitempty"`
	AutoFixable bool          `json:"auto_fixable"`
	FixAction   FixAction     `json:"fix_action,omitempty"`
	SlotID      int           `json:"slot_id,omitempty"`
	CourseID    int           `json:"course_id,omitempty"`
}

// severityDeduction is the fixed score cost per issue severity.
var severityDeduction = map[IssueSeverity]int{
	SeverityCritical: 15,
	SeverityHigh:     10,
	SeverityMedium:   5,
	SeverityLow:      2,
}

// ScoreIssues folds a set of issues into a 0-100 quality score. The result
// depends only on the issue multiset, never on ordering.
func ScoreIssues(issues []Issue) uint8 {
	score := 100
	for _, issue := range issues {
		score -= severityDeduction[issue.Severity]
	}
	if score < 0 {
		score = 0
	}
	return uint8(score)
}
