package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/datatypes"
)

// Row outcomes. FAILED is reserved for infrastructure errors (database
// unavailable, retries exhausted); validation and permission problems
// surface as skipped fields on a PARTIALLY_APPLIED row instead.
const (
	RowApplied          = "APPLIED"
	RowPartiallyApplied = "PARTIALLY_APPLIED"
	RowNotFound         = "NOT_FOUND"
	RowFailed           = "FAILED"
)

// Field skip reasons.
const (
	SkipPermissionDenied  = "permission_denied"
	SkipInvalidTransition = "invalid_transition"
	SkipInvalidValue      = "invalid_value"
)

// RowChange is one task's worth of desired field values, keyed by the
// wire field names. Values arrive as strings regardless of source (JSON
// edit, bulk action, spreadsheet cell) and are parsed per field.
type RowChange struct {
	TaskID string            `json:"task_id"`
	Fields map[string]string `json:"fields"`
}

// FieldSkip records one field that was not applied and why.
type FieldSkip struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// RowOutcome is the per-row result of an apply. A row with skips still
// commits its applicable fields; rows never abort each other.
type RowOutcome struct {
	TaskID  string      `json:"task_id"`
	Result  string      `json:"result"`
	Skipped []FieldSkip `json:"skipped,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CompletionEffects is fired after a commit moves a task into COMPLETED.
// Implementations are best-effort: failures are recorded on the task
// (delivery failure note), never returned to the mutation that
// triggered them.
type CompletionEffects interface {
	OnCompleted(task *model.Task, actor *Actor, source string)
}

const applyRetryLimit = 3

// ReconcileService is the single write path for existing tasks. Every
// mutation source (single edit, bulk action, spreadsheet import,
// scheduled sweep) is reduced to RowChange values and applied here, so
// permission checks, lifecycle checks, versioning and audit writing
// happen exactly once, identically.
type ReconcileService struct {
	store   TaskStore
	gate    *PermissionGate
	machine Lifecycle
	effects CompletionEffects
	workers int
}

// NewReconcileService wires the engine. effects may be nil (no
// completion side effects, used by tests and offline tools). Worker
// count comes from APPLY_WORKERS, default 4.
func NewReconcileService(store TaskStore, gate *PermissionGate, effects CompletionEffects) *ReconcileService {
	workers := 4
	if v := os.Getenv("APPLY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}
	return &ReconcileService{
		store:   store,
		gate:    gate,
		effects: effects,
		workers: workers,
	}
}

// ApplyOne is the strict single-task path used by interactive edits. The
// first refused or invalid field aborts without persisting anything and
// the typed error tells the caller exactly what was wrong; interactive
// callers get precise failures where batch callers get skip reports.
func (s *ReconcileService) ApplyOne(actor *Actor, change RowChange, source string) (*model.Task, error) {
	outcome, task, entered, err := s.applyRow(actor, change, source, true)
	if err != nil {
		return nil, err
	}
	if outcome.Result == RowFailed {
		return nil, fmt.Errorf("applying change to task %s: %s", change.TaskID, outcome.Error)
	}
	if entered {
		s.fireCompleted(task, actor, source)
	}
	return task, nil
}

// ApplyBatch applies rows independently with bounded parallelism and
// returns one outcome per input row, in input order. It never aborts
// early: a failed row is reported and the rest proceed.
func (s *ReconcileService) ApplyBatch(actor *Actor, rows []RowChange, source string) []RowOutcome {
	outcomes := make([]RowOutcome, len(rows))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	for i := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, task, entered, _ := s.applyRow(actor, rows[i], source, false)
			outcomes[i] = outcome
			if entered {
				s.fireCompleted(task, actor, source)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("[ApplyBatch] Applied %d rows as %s (source %s)", len(rows), actor.Role, source)
	return outcomes
}

func (s *ReconcileService) fireCompleted(task *model.Task, actor *Actor, source string) {
	if s.effects == nil || task == nil {
		return
	}
	s.effects.OnCompleted(task, actor, source)
}

// applyRow runs the full pipeline for one row: read, per-field gate and
// validation, compare-and-set write with audit entries, retry on version
// conflict. In strict mode the first skip aborts the row before any
// write and returns its typed error.
func (s *ReconcileService) applyRow(actor *Actor, change RowChange, source string, strict bool) (RowOutcome, *model.Task, bool, error) {
	outcome := RowOutcome{TaskID: change.TaskID}

	fields := make([]string, 0, len(change.Fields))
	for f := range change.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for attempt := 0; attempt < applyRetryLimit; attempt++ {
		task, err := s.store.Get(change.TaskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				outcome.Result = RowNotFound
				if strict {
					return outcome, nil, false, err
				}
				return outcome, nil, false, nil
			}
			outcome.Result = RowFailed
			outcome.Error = err.Error()
			return outcome, nil, false, nil
		}

		working := *task
		outcome.Skipped = nil
		var entries []model.AuditEntry
		var comments []model.Comment
		var strictErr error
		entered := false
		owned := task.IsOwnedBy(actor.ID)

		skip := func(field, reason string, cause error) {
			outcome.Skipped = append(outcome.Skipped, FieldSkip{Field: field, Reason: reason, Detail: cause.Error()})
			if strictErr == nil {
				strictErr = cause
			}
		}
		record := func(field, prev, next string) {
			entries = append(entries, model.AuditEntry{
				TaskID:    task.ID,
				ActorID:   actor.ID,
				Field:     field,
				PrevValue: prev,
				NewValue:  next,
				Source:    source,
			})
		}

		for _, field := range fields {
			raw := change.Fields[field]

			if !mutableTaskFields[field] {
				skip(field, SkipInvalidValue, fmt.Errorf("unknown field %q: %w", field, ErrInvalidValue))
				continue
			}
			if field == FieldAttachment {
				skip(field, SkipInvalidValue, fmt.Errorf("attachments cannot be carried in rows: %w", ErrInvalidValue))
				continue
			}
			if !s.gate.CanMutate(actor.Role, OpUpdate, field, owned) {
				skip(field, SkipPermissionDenied, fmt.Errorf("role %s may not set %s: %w", actor.Role, field, ErrPermissionDenied))
				continue
			}

			switch field {
			case FieldComment:
				body := strings.TrimSpace(raw)
				if body == "" {
					skip(field, SkipInvalidValue, fmt.Errorf("empty comment: %w", ErrInvalidValue))
					continue
				}
				comments = append(comments, model.Comment{
					TaskID:   task.ID,
					AuthorID: actor.ID,
					Body:     body,
					Mentions: model.MarshalEmailList(ExtractMentions(body)),
				})
				record(FieldComment, "", body)

			case FieldStatus:
				if working.Status == raw {
					continue
				}
				if err := s.machine.CheckTransition(&working, raw, actor); err != nil {
					reason := SkipInvalidTransition
					if errors.Is(err, ErrPermissionDenied) {
						reason = SkipPermissionDenied
					}
					skip(field, reason, err)
					continue
				}
				if s.machine.EntersCompleted(&working, raw) {
					entered = true
				}
				record(FieldStatus, working.Status, raw)
				working.Status = raw

			default:
				delta, err := applyField(&working, field, raw)
				if err != nil {
					skip(field, SkipInvalidValue, err)
					continue
				}
				if !delta.changed {
					continue
				}
				record(field, delta.prev, delta.next)
			}
		}

		// Cross-field check: a row may move both dates, but never into an
		// inverted range. Revert the offending date fields and skip them.
		if working.DueDate.Before(working.StartDate) {
			cause := fmt.Errorf("start_date %s is after due_date %s: %w",
				working.StartDate.Format(model.DateLayout), working.DueDate.Format(model.DateLayout), ErrInvalidValue)
			if !working.StartDate.Equal(task.StartDate) {
				working.StartDate = task.StartDate
				skip(FieldStartDate, SkipInvalidValue, cause)
			}
			if !working.DueDate.Equal(task.DueDate) {
				working.DueDate = task.DueDate
				skip(FieldDueDate, SkipInvalidValue, cause)
			}
			kept := entries[:0]
			for _, e := range entries {
				if e.Field == FieldStartDate || e.Field == FieldDueDate {
					continue
				}
				kept = append(kept, e)
			}
			entries = kept
		}

		if strict && strictErr != nil {
			outcome.Result = RowPartiallyApplied
			return outcome, nil, false, strictErr
		}

		columnChanges := false
		for _, e := range entries {
			if e.Field != FieldComment {
				columnChanges = true
				break
			}
		}

		if !columnChanges {
			// Comment-only (or no-op) rows do not bump the version.
			for i := range comments {
				if err := s.store.AddComment(&comments[i]); err != nil {
					log.Printf("[applyRow] Error adding comment on task %s: %v", task.ID, err)
					outcome.Error = err.Error()
				}
			}
			for i := range entries {
				if err := s.store.AppendAudit(&entries[i]); err != nil {
					outcome.Error = err.Error()
				}
			}
			outcome.Result = rowResult(outcome)
			return outcome, task, false, nil
		}

		err = s.store.Put(&working, task.Version, entries)
		if errors.Is(err, ErrVersionConflict) {
			log.Printf("[applyRow] Version conflict on task %s (attempt %d); retrying", task.ID, attempt+1)
			continue
		}
		if errors.Is(err, ErrNotFound) {
			outcome.Result = RowNotFound
			if strict {
				return outcome, nil, false, err
			}
			return outcome, nil, false, nil
		}
		if err != nil {
			outcome.Result = RowFailed
			outcome.Error = err.Error()
			return outcome, nil, false, nil
		}

		for i := range comments {
			if err := s.store.AddComment(&comments[i]); err != nil {
				log.Printf("[applyRow] Error adding comment on task %s: %v", task.ID, err)
				outcome.Error = err.Error()
			}
		}

		outcome.Result = rowResult(outcome)
		return outcome, &working, entered, nil
	}

	outcome.Result = RowFailed
	outcome.Error = fmt.Sprintf("task %s: version conflict after %d attempts", change.TaskID, applyRetryLimit)
	if strict {
		return outcome, nil, false, fmt.Errorf("task %s after %d attempts: %w", change.TaskID, applyRetryLimit, ErrVersionConflict)
	}
	return outcome, nil, false, nil
}

func rowResult(outcome RowOutcome) string {
	if len(outcome.Skipped) > 0 {
		return RowPartiallyApplied
	}
	return RowApplied
}

type fieldDelta struct {
	prev    string
	next    string
	changed bool
}

// applyField parses raw and writes it onto the working copy. Status and
// comment are handled by the caller; everything else lands here.
func applyField(task *model.Task, field, raw string) (fieldDelta, error) {
	setString := func(target *string, trim bool) fieldDelta {
		next := raw
		if trim {
			next = strings.TrimSpace(raw)
		}
		d := fieldDelta{prev: *target, next: next, changed: *target != next}
		*target = next
		return d
	}

	switch field {
	case FieldTitle:
		if strings.TrimSpace(raw) == "" {
			return fieldDelta{}, fmt.Errorf("title cannot be empty: %w", ErrInvalidValue)
		}
		return setString(&task.Title, true), nil
	case FieldCategory:
		return setString(&task.Category, true), nil
	case FieldPriority:
		return setString(&task.Priority, true), nil
	case FieldAssignee:
		return setString(&task.AssigneeID, true), nil
	case FieldNotes:
		return setString(&task.Notes, false), nil
	case FieldDelayReason:
		return setString(&task.DelayReason, false), nil
	case FieldCalendarDescription:
		return setString(&task.CalendarDescription, false), nil
	case FieldStartMailThreadRef:
		return setString(&task.StartMailThreadRef, true), nil
	case FieldDeliveryFailureNote:
		return setString(&task.DeliveryFailureNote, false), nil

	case FieldStartDate:
		return setDate(&task.StartDate, raw)
	case FieldDueDate:
		return setDate(&task.DueDate, raw)

	case FieldOverrideTo:
		return setOverride(&task.OverrideTo, raw), nil
	case FieldOverrideCC:
		return setOverride(&task.OverrideCC, raw), nil
	case FieldOverrideBCC:
		return setOverride(&task.OverrideBCC, raw), nil

	case FieldStartMailEnabled:
		return setBool(&task.StartMailEnabled, raw)
	case FieldCompletionMailEnabled:
		return setBool(&task.CompletionMailEnabled, raw)
	case FieldNotifyAssigneeOnComplete:
		return setBool(&task.NotifyAssigneeOnComplete, raw)
	case FieldNotifyManagerOnComplete:
		return setBool(&task.NotifyManagerOnComplete, raw)
	}
	return fieldDelta{}, fmt.Errorf("unknown field %q: %w", field, ErrInvalidValue)
}

func setDate(target *time.Time, raw string) (fieldDelta, error) {
	parsed, err := time.Parse(model.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return fieldDelta{}, fmt.Errorf("date %q: %w", raw, ErrInvalidValue)
	}
	d := fieldDelta{
		prev:    target.Format(model.DateLayout),
		next:    parsed.Format(model.DateLayout),
		changed: !parsed.Equal(*target),
	}
	*target = parsed
	return d, nil
}

// setOverride writes a recipient-override column. An empty value clears
// the override entirely (back to inheriting the client default), which
// is distinct from an explicit empty list; rows have no way to express
// the latter and inherit is what operators mean.
func setOverride(target *datatypes.JSON, raw string) fieldDelta {
	prevList, prevSet := model.EmailList(*target)
	prev := ""
	if prevSet {
		prev = strings.Join(prevList, ", ")
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		d := fieldDelta{prev: prev, next: "", changed: prevSet}
		*target = nil
		return d
	}

	list := SplitEmailList(trimmed)
	next := strings.Join(list, ", ")
	d := fieldDelta{prev: prev, next: next, changed: !prevSet || prev != next}
	*target = model.MarshalEmailList(list)
	return d
}

func setBool(target *bool, raw string) (fieldDelta, error) {
	var next bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y":
		next = true
	case "false", "0", "no", "n":
		next = false
	default:
		return fieldDelta{}, fmt.Errorf("boolean %q: %w", raw, ErrInvalidValue)
	}
	d := fieldDelta{
		prev:    strconv.FormatBool(*target),
		next:    strconv.FormatBool(next),
		changed: *target != next,
	}
	*target = next
	return d, nil
}
