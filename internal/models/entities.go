package models

// Teacher is reference data. Identity is the integer ID assigned by the
// normalizer, never the raw display name.
type Teacher struct {
	ID          int    `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
}

// ClassGroup is a group of students that attends courses together.
type ClassGroup struct {
	ID          int    `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Grade       int    `db:"grade" json:"grade"`
}

// Subject carries the difficulty tier that drives the late-slot penalty.
type Subject struct {
	ID             int    `db:"id" json:"id"`
	DisplayName    string `db:"display_name" json:"display_name"`
	DifficultyTier int    `db:"difficulty_tier" json:"difficulty_tier"`
}

// Course is one schedulable teaching event. A parallel course with several
// classes and teachers is still ONE unit: a single set of assigned slots
// covers every member class and teacher simultaneously.
type Course struct {
	ID           int    `json:"id"`
	SubjectID    int    `json:"subject_id"`
	TeacherIDs   []int  `json:"teacher_ids"`
	ClassIDs     []int  `json:"class_ids"`
	HoursPerWeek int    `json:"hours_per_week"`
	IsParallel   bool   `json:"is_parallel"`
	SourceRow    int    `json:"source_row,omitempty"`
	LegacyGroup  string `json:"legacy_group,omitempty"`
}

// NormalizedInput is the read-only entity arena produced by the normalizer.
// All lookups after normalization go through integer IDs.
type NormalizedInput struct {
	Courses  []Course
	Teachers []Teacher
	Classes  []ClassGroup
	Subjects []Subject
}

// TeacherByID returns the teacher with the given ID, nil when absent.
func (n *NormalizedInput) TeacherByID(id int) *Teacher {
	if id >= 0 && id < len(n.Teachers) {
		return &n.Teachers[id]
	}
	return nil
}

// ClassByID returns the class group with the given ID, nil when absent.
func (n *NormalizedInput) ClassByID(id int) *ClassGroup {
	if id >= 0 && id < len(n.Classes) {
		return &n.Classes[id]
	}
	return nil
}

// SubjectByID returns the subject with the given ID, nil when absent.
func (n *NormalizedInput) SubjectByID(id int) *Subject {
	if id >= 0 && id < len(n.Subjects) {
		return &n.Subjects[id]
	}
	return nil
}

// CourseByID returns the course with the given ID, nil when absent.
func (n *NormalizedInput) CourseByID(id int) *Course {
	for i := range n.Courses {
		if n.Courses[i].ID == id {
			return &n.Courses[i]
		}
	}
	return nil
}

// ValidationError records a single rejected input row. Row failures are
// collected, never abort the whole batch.
type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}
