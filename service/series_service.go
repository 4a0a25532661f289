package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// Occurrence is one planned task in a series sequence. Index is the
// 1-based position in the full sequence, stable across extensions.
type Occurrence struct {
	Index     int
	StartDate time.Time
	DueDate   time.Time
}

// maxTriggerLeadDays caps how far a start date may precede its due date.
// Oversized trigger offsets are a configuration mistake, not a request
// for year-early reminders.
func maxTriggerLeadDays() int {
	if v := os.Getenv("MAX_TRIGGER_LEAD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 180
}

// GenerateOccurrences walks the series' due-date sequence from its
// anchor and returns the occurrences strictly after the watermark, up to
// total. Calling it again with an unchanged watermark and total yields
// nothing, which is what makes generation safe to re-run.
func GenerateOccurrences(series *model.Series, total, maxLeadDays int) []Occurrence {
	lead := series.TriggerDaysBeforeDue
	if lead < 0 {
		lead = 0
	}
	if maxLeadDays > 0 && lead > maxLeadDays {
		lead = maxLeadDays
	}

	var out []Occurrence
	due := series.AnchorDueDate
	for i := 1; i <= total; i++ {
		if i > 1 {
			due = advanceInterval(due, series.IntervalUnit, series.IntervalCount)
		}
		if !series.LastGeneratedDue.IsZero() && !due.After(series.LastGeneratedDue) {
			continue
		}
		out = append(out, Occurrence{
			Index:     i,
			StartDate: due.AddDate(0, 0, -lead),
			DueDate:   due,
		})
	}
	return out
}

// advanceInterval moves a due date forward by count units. Month and
// year steps clamp to the last day of the target month so a
// due-on-the-31st series lands on Feb 28 rather than spilling into
// March.
func advanceInterval(t time.Time, unit string, count int) time.Time {
	if count < 1 {
		count = 1
	}
	switch unit {
	case model.IntervalDay:
		return t.AddDate(0, 0, count)
	case model.IntervalWeek:
		return t.AddDate(0, 0, 7*count)
	case model.IntervalYear:
		return addMonthsClamped(t, 12*count)
	default:
		return addMonthsClamped(t, count)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	first = first.AddDate(0, months, 0)
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

// SeriesInput is the payload for creating a recurrence definition.
type SeriesInput struct {
	ClientID             string `json:"client_id"`
	Title                string `json:"title"`
	Category             string `json:"category"`
	Priority             string `json:"priority"`
	Notes                string `json:"notes"`
	CalendarDescription  string `json:"calendar_description"`
	IntervalUnit         string `json:"interval_unit"`
	IntervalCount        int    `json:"interval_count"`
	TriggerDaysBeforeDue int    `json:"trigger_days_before_due"`
	AnchorDueDate        string `json:"anchor_due_date"`
	Count                int    `json:"count"`

	StartMailEnabled      *bool `json:"start_mail_enabled"`
	CompletionMailEnabled *bool `json:"completion_mail_enabled"`
}

// SeriesService creates recurrence definitions and materializes their
// tasks. Generated tasks are independent the moment they exist: series
// deletion and extension never touch already-materialized instances.
type SeriesService struct {
	db       *gorm.DB
	gate     *PermissionGate
	calendar CalendarTransport
}

func NewSeriesService(db *gorm.DB, gate *PermissionGate, calendar CalendarTransport) *SeriesService {
	return &SeriesService{db: db, gate: gate, calendar: calendar}
}

// CreateSeries validates the definition, stores it and materializes the
// initial cohort of tasks.
func (s *SeriesService) CreateSeries(actor *Actor, input SeriesInput) (*model.Series, []model.Task, error) {
	if !s.gate.CanMutate(actor.Role, OpCreate, "", false) {
		return nil, nil, fmt.Errorf("role %s may not create series: %w", actor.Role, ErrPermissionDenied)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, nil, fmt.Errorf("series title cannot be empty: %w", ErrInvalidValue)
	}
	if !model.ValidIntervalUnit(input.IntervalUnit) {
		return nil, nil, fmt.Errorf("interval unit %q: %w", input.IntervalUnit, ErrInvalidValue)
	}
	if input.Count < 1 {
		return nil, nil, fmt.Errorf("occurrence count %d: %w", input.Count, ErrInvalidValue)
	}
	anchor, err := time.Parse(model.DateLayout, input.AnchorDueDate)
	if err != nil {
		return nil, nil, fmt.Errorf("anchor due date %q: %w", input.AnchorDueDate, ErrInvalidValue)
	}

	var client model.Client
	if err := s.db.First(&client, "id = ?", input.ClientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("client %s: %w", input.ClientID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("fetching client %s: %w", input.ClientID, err)
	}

	series := model.Series{
		ClientID:              client.ID,
		Title:                 strings.TrimSpace(input.Title),
		Category:              input.Category,
		Priority:              input.Priority,
		Notes:                 input.Notes,
		CalendarDescription:   input.CalendarDescription,
		IntervalUnit:          input.IntervalUnit,
		IntervalCount:         max(input.IntervalCount, 1),
		TriggerDaysBeforeDue:  input.TriggerDaysBeforeDue,
		AnchorDueDate:         anchor,
		StartMailEnabled:      true,
		CompletionMailEnabled: true,
	}
	if input.StartMailEnabled != nil {
		series.StartMailEnabled = *input.StartMailEnabled
	}
	if input.CompletionMailEnabled != nil {
		series.CompletionMailEnabled = *input.CompletionMailEnabled
	}

	if err := s.db.Create(&series).Error; err != nil {
		log.Printf("[CreateSeries] Error creating series for client %s: %v", client.ID, err)
		return nil, nil, fmt.Errorf("creating series: %w", err)
	}

	tasks, err := s.materialize(&series, &client, actor, input.Count)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[CreateSeries] Series %s created with %d tasks for client %s", series.ID, len(tasks), client.Name)
	return &series, tasks, nil
}

// Extend materializes additional occurrences after the watermark. With
// additional = 0 it re-runs generation for the current total, which
// fills nothing when the watermark is current and repairs the cohort
// when a previous run was interrupted.
func (s *SeriesService) Extend(actor *Actor, seriesID string, additional int) ([]model.Task, error) {
	if !s.gate.CanMutate(actor.Role, OpCreate, "", false) {
		return nil, fmt.Errorf("role %s may not extend series: %w", actor.Role, ErrPermissionDenied)
	}
	if additional < 0 {
		return nil, fmt.Errorf("additional count %d: %w", additional, ErrInvalidValue)
	}

	series, err := s.get(seriesID)
	if err != nil {
		return nil, err
	}
	var client model.Client
	if err := s.db.First(&client, "id = ?", series.ClientID).Error; err != nil {
		return nil, fmt.Errorf("fetching client %s: %w", series.ClientID, err)
	}

	tasks, err := s.materialize(series, &client, actor, series.OccurrencesTotal+additional)
	if err != nil {
		return nil, err
	}
	log.Printf("[Extend] Series %s extended by %d; %d tasks materialized", seriesID, additional, len(tasks))
	return tasks, nil
}

// materialize generates occurrences up to total and creates the missing
// tasks, audit seeds and watermark update in one transaction. Calendar
// events follow after commit, best-effort.
func (s *SeriesService) materialize(series *model.Series, client *model.Client, actor *Actor, total int) ([]model.Task, error) {
	occurrences := GenerateOccurrences(series, total, maxTriggerLeadDays())
	if len(occurrences) == 0 {
		// Watermark already covers the requested total.
		if total != series.OccurrencesTotal {
			if err := s.db.Model(series).Update("occurrences_total", total).Error; err != nil {
				return nil, fmt.Errorf("updating series %s total: %w", series.ID, err)
			}
			series.OccurrencesTotal = total
		}
		return nil, nil
	}

	tasks := make([]model.Task, 0, len(occurrences))
	for _, o := range occurrences {
		seriesID := series.ID
		tasks = append(tasks, model.Task{
			ClientID:              client.ID,
			ClientNameSnapshot:    client.Name,
			Title:                 series.Title,
			Category:              series.Category,
			Priority:              series.Priority,
			Status:                model.StatusPending,
			StartDate:             o.StartDate,
			DueDate:               o.DueDate,
			Notes:                 series.Notes,
			CalendarDescription:   series.CalendarDescription,
			StartMailEnabled:      series.StartMailEnabled,
			CompletionMailEnabled: series.CompletionMailEnabled,
			SeriesID:              &seriesID,
			OccurrenceIndex:       o.Index,
			OccurrenceTotal:       total,
		})
	}

	watermark := occurrences[len(occurrences)-1].DueDate

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range tasks {
			if err := tx.Create(&tasks[i]).Error; err != nil {
				return fmt.Errorf("creating occurrence %d: %w", tasks[i].OccurrenceIndex, err)
			}
			entry := model.AuditEntry{
				TaskID:   tasks[i].ID,
				ActorID:  actor.ID,
				Field:    AuditCreated,
				NewValue: fmt.Sprintf("%s (occurrence %d/%d)", tasks[i].Title, tasks[i].OccurrenceIndex, total),
				Source:   model.SourceUI,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("seeding audit for occurrence %d: %w", tasks[i].OccurrenceIndex, err)
			}
		}
		updates := map[string]interface{}{
			"last_generated_due": watermark,
			"occurrences_total":  total,
		}
		if err := tx.Model(series).Updates(updates).Error; err != nil {
			return fmt.Errorf("advancing series %s watermark: %w", series.ID, err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[materialize] Error materializing series %s: %v", series.ID, err)
		return nil, err
	}
	series.LastGeneratedDue = watermark
	series.OccurrencesTotal = total

	// New tasks have no competing writers yet, so the column update is safe
	// outside the versioned path.
	if s.calendar != nil {
		for i := range tasks {
			eventID, link, err := s.calendar.CreateStartEvent(&tasks[i])
			if err != nil {
				log.Printf("[materialize] Calendar event failed for task %s: %v", tasks[i].ID, err)
				continue
			}
			tasks[i].CalendarEventID = eventID
			tasks[i].CalendarHTMLLink = link
			if err := s.db.Model(&tasks[i]).Updates(map[string]interface{}{
				"calendar_event_id":  eventID,
				"calendar_html_link": link,
			}).Error; err != nil {
				log.Printf("[materialize] Error saving calendar refs for task %s: %v", tasks[i].ID, err)
			}
		}
	}

	return tasks, nil
}

func (s *SeriesService) get(seriesID string) (*model.Series, error) {
	var series model.Series
	if err := s.db.First(&series, "id = ?", seriesID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("series %s: %w", seriesID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching series %s: %w", seriesID, err)
	}
	return &series, nil
}

// GetSeries returns a series and the tasks generated from it.
func (s *SeriesService) GetSeries(seriesID string) (*model.Series, []model.Task, error) {
	series, err := s.get(seriesID)
	if err != nil {
		return nil, nil, err
	}
	var tasks []model.Task
	if err := s.db.Where("series_id = ?", seriesID).Order("occurrence_index asc").Find(&tasks).Error; err != nil {
		return nil, nil, fmt.Errorf("fetching tasks of series %s: %w", seriesID, err)
	}
	return series, tasks, nil
}

// ListSeries returns definitions, optionally scoped to one client.
func (s *SeriesService) ListSeries(clientID string) ([]model.Series, error) {
	q := s.db.Order("created_at desc")
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	var out []model.Series
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	return out, nil
}

// DeleteSeries removes the definition only. Generated tasks survive and
// keep their series reference for history.
func (s *SeriesService) DeleteSeries(actor *Actor, seriesID string) error {
	if !s.gate.CanMutate(actor.Role, OpDeleteSeries, "", false) {
		return fmt.Errorf("role %s may not delete series: %w", actor.Role, ErrPermissionDenied)
	}
	res := s.db.Delete(&model.Series{}, "id = ?", seriesID)
	if res.Error != nil {
		return fmt.Errorf("deleting series %s: %w", seriesID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("series %s: %w", seriesID, ErrNotFound)
	}
	log.Printf("[DeleteSeries] Series %s deleted by %s (tasks retained)", seriesID, actor.Role)
	return nil
}
