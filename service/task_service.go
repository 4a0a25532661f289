package services

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// Audit markers for events that are not single-field changes.
const (
	AuditCreated  = "created"
	AuditReopened = "reopen"
	AuditDeleted  = "deleted"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9._-]+)`)

// ExtractMentions pulls @handles out of a comment body, lowercased and
// deduplicated in order of first appearance.
func ExtractMentions(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		handle := strings.ToLower(m[1])
		if !seen[handle] {
			seen[handle] = true
			out = append(out, handle)
		}
	}
	return out
}

// TaskInput is the creation payload for a standalone task. Override
// lists distinguish nil (inherit client defaults) from present values.
type TaskInput struct {
	ClientID            string `json:"client_id"`
	Title               string `json:"title"`
	Category            string `json:"category"`
	Priority            string `json:"priority"`
	AssigneeID          string `json:"assignee_id"`
	Status              string `json:"status"`
	StartDate           string `json:"start_date"`
	DueDate             string `json:"due_date"`
	Notes               string `json:"notes"`
	CalendarDescription string `json:"calendar_description"`

	OverrideTo  []string `json:"override_to"`
	OverrideCC  []string `json:"override_cc"`
	OverrideBCC []string `json:"override_bcc"`

	StartMailEnabled         *bool `json:"start_mail_enabled"`
	CompletionMailEnabled    *bool `json:"completion_mail_enabled"`
	NotifyAssigneeOnComplete bool  `json:"notify_assignee_on_complete"`
	NotifyManagerOnComplete  bool  `json:"notify_manager_on_complete"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status     string
	ClientID   string
	AssigneeID string
	SeriesID   string
	DueFrom    string
	DueTo      string
	Limit      int
	Offset     int
}

// TaskService owns task creation, retrieval and the operations that sit
// outside the field-apply path (reopen, delete, comments). Field
// mutations on existing tasks always go through the reconcile engine.
type TaskService struct {
	db       *gorm.DB
	store    TaskStore
	gate     *PermissionGate
	engine   *ReconcileService
	effects  *SideEffects
	calendar CalendarTransport
}

func NewTaskService(db *gorm.DB, store TaskStore, gate *PermissionGate, engine *ReconcileService, effects *SideEffects, calendar CalendarTransport) *TaskService {
	return &TaskService{db: db, store: store, gate: gate, engine: engine, effects: effects, calendar: calendar}
}

// CreateTask validates and persists a standalone task, seeds its audit
// trail, mirrors it to the calendar and sends the start mail immediately
// when the start date has already arrived.
func (s *TaskService) CreateTask(actor *Actor, input TaskInput) (*model.Task, error) {
	if !s.gate.CanMutate(actor.Role, OpCreate, "", false) {
		return nil, fmt.Errorf("role %s may not create tasks: %w", actor.Role, ErrPermissionDenied)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("title cannot be empty: %w", ErrInvalidValue)
	}

	dueDate, err := time.Parse(model.DateLayout, input.DueDate)
	if err != nil {
		return nil, fmt.Errorf("due date %q: %w", input.DueDate, ErrInvalidValue)
	}
	startDate := dueDate
	if input.StartDate != "" {
		startDate, err = time.Parse(model.DateLayout, input.StartDate)
		if err != nil {
			return nil, fmt.Errorf("start date %q: %w", input.StartDate, ErrInvalidValue)
		}
	}
	if dueDate.Before(startDate) {
		return nil, fmt.Errorf("start date %s is after due date %s: %w", input.StartDate, input.DueDate, ErrInvalidValue)
	}

	status := input.Status
	if status == "" {
		status = model.StatusPending
	}
	if !model.ValidStatus(status) || status == model.StatusCompleted {
		return nil, fmt.Errorf("initial status %q: %w", input.Status, ErrInvalidValue)
	}

	var client model.Client
	if err := s.db.First(&client, "id = ?", input.ClientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %s: %w", input.ClientID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching client %s: %w", input.ClientID, err)
	}

	task := model.Task{
		ClientID:                 client.ID,
		ClientNameSnapshot:       client.Name,
		Title:                    strings.TrimSpace(input.Title),
		Category:                 input.Category,
		Priority:                 input.Priority,
		AssigneeID:               input.AssigneeID,
		Status:                   status,
		StartDate:                startDate,
		DueDate:                  dueDate,
		Notes:                    input.Notes,
		CalendarDescription:      input.CalendarDescription,
		StartMailEnabled:         true,
		CompletionMailEnabled:    true,
		NotifyAssigneeOnComplete: input.NotifyAssigneeOnComplete,
		NotifyManagerOnComplete:  input.NotifyManagerOnComplete,
		Version:                  1,
	}
	if input.StartMailEnabled != nil {
		task.StartMailEnabled = *input.StartMailEnabled
	}
	if input.CompletionMailEnabled != nil {
		task.CompletionMailEnabled = *input.CompletionMailEnabled
	}
	if input.OverrideTo != nil {
		task.OverrideTo = model.MarshalEmailList(input.OverrideTo)
	}
	if input.OverrideCC != nil {
		task.OverrideCC = model.MarshalEmailList(input.OverrideCC)
	}
	if input.OverrideBCC != nil {
		task.OverrideBCC = model.MarshalEmailList(input.OverrideBCC)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
		entry := model.AuditEntry{
			TaskID:   task.ID,
			ActorID:  actor.ID,
			Field:    AuditCreated,
			NewValue: task.Title,
			Source:   model.SourceUI,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("seeding audit: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("[CreateTask] Error creating task for client %s: %v", client.ID, err)
		return nil, err
	}

	if s.calendar != nil {
		eventID, link, err := s.calendar.CreateStartEvent(&task)
		if err != nil {
			log.Printf("[CreateTask] Calendar event failed for task %s: %v", task.ID, err)
		} else {
			task.CalendarEventID = eventID
			task.CalendarHTMLLink = link
			if err := s.db.Model(&task).Updates(map[string]interface{}{
				"calendar_event_id":  eventID,
				"calendar_html_link": link,
			}).Error; err != nil {
				log.Printf("[CreateTask] Error saving calendar refs for task %s: %v", task.ID, err)
			}
		}
	}

	if s.effects != nil && !task.StartDate.After(todayIn(appLocation())) {
		s.effects.RunStart(&task, actor, model.SourceUI)
	}

	log.Printf("[CreateTask] Task %s created for client %s by %s", task.ID, client.Name, actor.Role)
	return &task, nil
}

// UpdateTask applies a field map to one task through the strict apply
// path and returns the updated task.
func (s *TaskService) UpdateTask(actor *Actor, taskID string, fields map[string]string) (*model.Task, error) {
	return s.engine.ApplyOne(actor, RowChange{TaskID: taskID, Fields: fields}, model.SourceUI)
}

// SetStatus is the single-field convenience used by the status endpoint.
func (s *TaskService) SetStatus(actor *Actor, taskID, status string) (*model.Task, error) {
	return s.UpdateTask(actor, taskID, map[string]string{FieldStatus: status})
}

// Reopen moves a COMPLETED task back to an active status. It is the only
// path out of COMPLETED, runs under its own permission, and marks the
// audit trail distinctly from ordinary status changes. Completion side
// effects do not fire again on the way back in or out.
func (s *TaskService) Reopen(actor *Actor, taskID, target string) (*model.Task, error) {
	if !s.gate.CanMutate(actor.Role, OpReopen, "", false) {
		return nil, fmt.Errorf("role %s may not reopen tasks: %w", actor.Role, ErrPermissionDenied)
	}
	if !model.ValidStatus(target) || target == model.StatusCompleted {
		return nil, fmt.Errorf("reopen target %q: %w", target, ErrInvalidValue)
	}

	for attempt := 0; attempt < applyRetryLimit; attempt++ {
		task, err := s.store.Get(taskID)
		if err != nil {
			return nil, err
		}
		if task.Status != model.StatusCompleted {
			return nil, fmt.Errorf("task %s is not completed: %w", taskID, ErrInvalidTransition)
		}

		working := *task
		working.Status = target
		entry := model.AuditEntry{
			TaskID:    task.ID,
			ActorID:   actor.ID,
			Field:     AuditReopened,
			PrevValue: model.StatusCompleted,
			NewValue:  target,
			Source:    model.SourceUI,
		}

		err = s.store.Put(&working, task.Version, []model.AuditEntry{entry})
		if err == nil {
			log.Printf("[Reopen] Task %s reopened to %s by %s", taskID, target, actor.Role)
			return &working, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrVersionConflict)
}

// DeleteTask removes one task. Associates may delete tasks assigned to
// them; series membership does not protect an instance, and deleting an
// instance never touches its siblings. The audit trail is kept.
func (s *TaskService) DeleteTask(actor *Actor, taskID string) error {
	task, err := s.store.Get(taskID)
	if err != nil {
		return err
	}
	if !s.gate.CanMutate(actor.Role, OpDelete, "", task.IsOwnedBy(actor.ID)) {
		return fmt.Errorf("role %s may not delete task %s: %w", actor.Role, taskID, ErrPermissionDenied)
	}

	entry := model.AuditEntry{
		TaskID:    task.ID,
		ActorID:   actor.ID,
		Field:     AuditDeleted,
		PrevValue: task.Title,
		Source:    model.SourceUI,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Task{}, "id = ?", taskID).Error; err != nil {
			return fmt.Errorf("deleting task %s: %w", taskID, err)
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("recording deletion of task %s: %w", taskID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.calendar != nil {
		if err := s.calendar.DeleteEvent(task.CalendarEventID); err != nil {
			log.Printf("[DeleteTask] Calendar cleanup for task %s failed: %v", taskID, err)
		}
	}
	log.Printf("[DeleteTask] Task %s deleted by %s", taskID, actor.Role)
	return nil
}

// AddComment appends a comment with extracted @mentions and audits it.
func (s *TaskService) AddComment(actor *Actor, taskID, body string) (*model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty comment: %w", ErrInvalidValue)
	}
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanMutate(actor.Role, OpUpdate, FieldComment, task.IsOwnedBy(actor.ID)) {
		return nil, fmt.Errorf("role %s may not comment on task %s: %w", actor.Role, taskID, ErrPermissionDenied)
	}

	comment := model.Comment{
		TaskID:   taskID,
		AuthorID: actor.ID,
		Body:     body,
		Mentions: model.MarshalEmailList(ExtractMentions(body)),
	}
	if err := s.store.AddComment(&comment); err != nil {
		return nil, err
	}
	if err := s.store.AppendAudit(&model.AuditEntry{
		TaskID:   taskID,
		ActorID:  actor.ID,
		Field:    FieldComment,
		NewValue: body,
		Source:   model.SourceUI,
	}); err != nil {
		log.Printf("[AddComment] Audit append failed for task %s: %v", taskID, err)
	}
	return &comment, nil
}

// ListComments returns a task's comments oldest first.
func (s *TaskService) ListComments(taskID string) ([]model.Comment, error) {
	var comments []model.Comment
	if err := s.db.Where("task_id = ?", taskID).Order("created_at asc").Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("fetching comments for task %s: %w", taskID, err)
	}
	return comments, nil
}

// GetTask returns one task.
func (s *TaskService) GetTask(taskID string) (*model.Task, error) {
	return s.store.Get(taskID)
}

// Audit returns a task's audit trail oldest first.
func (s *TaskService) Audit(taskID string) ([]model.AuditEntry, error) {
	return s.store.Audit(taskID)
}

// AuditExport returns audit entries across all tasks, optionally
// narrowed to one task or one mutation source. Entries survive task
// deletion, so the export can reference tasks that no longer exist.
func (s *TaskService) AuditExport(taskID, source string) ([]model.AuditEntry, error) {
	q := s.db.Order("created_at asc, id asc")
	if taskID != "" {
		q = q.Where("task_id = ?", taskID)
	}
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var entries []model.AuditEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}

// ListTasks returns the work queue, filtered and ordered by due date.
func (s *TaskService) ListTasks(filter TaskFilter) ([]model.Task, error) {
	q := s.db.Order("due_date asc, created_at asc")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ClientID != "" {
		q = q.Where("client_id = ?", filter.ClientID)
	}
	if filter.AssigneeID != "" {
		q = q.Where("assignee_id = ?", filter.AssigneeID)
	}
	if filter.SeriesID != "" {
		q = q.Where("series_id = ?", filter.SeriesID)
	}
	if filter.DueFrom != "" {
		from, err := time.Parse(model.DateLayout, filter.DueFrom)
		if err != nil {
			return nil, fmt.Errorf("due_from %q: %w", filter.DueFrom, ErrInvalidValue)
		}
		q = q.Where("due_date >= ?", from)
	}
	if filter.DueTo != "" {
		to, err := time.Parse(model.DateLayout, filter.DueTo)
		if err != nil {
			return nil, fmt.Errorf("due_to %q: %w", filter.DueTo, ErrInvalidValue)
		}
		q = q.Where("due_date <= ?", to)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var tasks []model.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}
