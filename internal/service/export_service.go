package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/export"
)

type exportScheduleStore interface {
	FetchActive(ctx context.Context, tenantID string) (*models.Schedule, error)
}

type exportInputStore interface {
	LoadNormalized(ctx context.Context, tenantID string) (*models.NormalizedInput, error)
}

// ExportService renders the active schedule as a day-by-period grid in CSV
// or PDF form, one grid per class group.
type ExportService struct {
	schedules exportScheduleStore
	inputs    exportInputStore
	calendar  models.CalendarConfig
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	title     string
	logger    *zap.Logger
}

// NewExportService constructs the exporter.
func NewExportService(schedules exportScheduleStore, inputs exportInputStore, calendar models.CalendarConfig, title string, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	pdf := export.NewPDFExporter()
	pdf.Landscape = true
	return &ExportService{
		schedules: schedules,
		inputs:    inputs,
		calendar:  calendar,
		csv:       export.NewCSVExporter(),
		pdf:       pdf,
		title:     title,
		logger:    logger,
	}
}

// ExportCSV renders the active schedule as CSV.
func (s *ExportService) ExportCSV(ctx context.Context, tenantID string) ([]byte, error) {
	data, err := s.buildDataset(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.csv.Render(*data)
}

// ExportPDF renders the active schedule as a landscape PDF grid.
func (s *ExportService) ExportPDF(ctx context.Context, tenantID string) ([]byte, error) {
	data, err := s.buildDataset(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.pdf.Render(*data, s.title)
}

// buildDataset flattens the schedule into rows of (class, period, day...)
// cells. Cell content is the subject name plus the teacher initials.
func (s *ExportService) buildDataset(ctx context.Context, tenantID string) (*export.Dataset, error) {
	schedule, err := s.schedules.FetchActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	input, err := s.inputs.LoadNormalized(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	idx := newSlotIndex(GenerateCalendar(s.calendar))
	if len(idx.days) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "calendar configuration yields no slots")
	}

	headers := []string{"Class", "Period"}
	for _, day := range idx.days {
		headers = append(headers, models.DayName(day))
	}

	// cell[class][slot] = rendered lesson
	cells := make(map[int]map[int]string)
	for _, a := range schedule.Assignments {
		course := input.CourseByID(a.CourseID)
		if course == nil {
			continue
		}
		label := s.lessonLabel(input, course)
		for _, classID := range course.ClassIDs {
			if cells[classID] == nil {
				cells[classID] = make(map[int]string)
			}
			cells[classID][a.SlotID] = label
		}
	}

	classIDs := make([]int, 0, len(cells))
	for id := range cells {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)

	data := &export.Dataset{Headers: headers}
	for _, classID := range classIDs {
		className := fmt.Sprintf("class %d", classID)
		if class := input.ClassByID(classID); class != nil {
			className = class.DisplayName
		}
		for period := 0; period < idx.periods; period++ {
			row := map[string]string{
				"Class":  className,
				"Period": fmt.Sprintf("%d", period+1),
			}
			for _, day := range idx.days {
				slotID := models.SlotID(day, period, s.calendar.PeriodsPerDay)
				if slot, ok := idx.byID[slotID]; ok && slot.IsBreak {
					row[models.DayName(day)] = "BREAK"
					continue
				}
				row[models.DayName(day)] = cells[classID][slotID]
			}
			data.Rows = append(data.Rows, row)
		}
	}
	return data, nil
}

func (s *ExportService) lessonLabel(input *models.NormalizedInput, course *models.Course) string {
	subject := fmt.Sprintf("course %d", course.ID)
	if sub := input.SubjectByID(course.SubjectID); sub != nil {
		subject = sub.DisplayName
	}
	initials := make([]string, 0, len(course.TeacherIDs))
	for _, teacherID := range course.TeacherIDs {
		if teacher := input.TeacherByID(teacherID); teacher != nil {
			initials = append(initials, teacherInitials(teacher.DisplayName))
		}
	}
	if len(initials) == 0 {
		return subject
	}
	return subject + " (" + strings.Join(initials, ",") + ")"
}

func teacherInitials(name string) string {
	parts := strings.Fields(name)
	var b strings.Builder
	for _, part := range parts {
		runes := []rune(part)
		if len(runes) > 0 {
			b.WriteRune(runes[0])
		}
	}
	return strings.ToUpper(b.String())
}
