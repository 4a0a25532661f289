package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	model "github.com/sahilkadam/complianceos/models"
)

// SpreadsheetCodec translates between CSV and the engine's row shapes.
// Import files are header-driven: the task_id column addresses the row
// and every other recognized column supplies one field value. A blank
// cell means "leave unchanged", so a file exported, edited in one column
// and re-imported touches only that column.
type SpreadsheetCodec struct{}

// DecodeRows parses an apply-changes file into engine rows. Column order
// is free; headers are matched case-insensitively. Rows keep their file
// order so outcomes line up with line numbers.
func (SpreadsheetCodec) DecodeRows(r io.Reader) ([]RowChange, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idCol := -1
	fieldCols := make(map[int]string)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "task_id" || name == "id" {
			idCol = i
			continue
		}
		if name != "" {
			fieldCols[i] = name
		}
	}
	if idCol == -1 {
		return nil, fmt.Errorf("file has no task_id column: %w", ErrInvalidValue)
	}

	var rows []RowChange
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(rows)+2, err)
		}

		row := RowChange{Fields: make(map[string]string)}
		if idCol < len(record) {
			row.TaskID = strings.TrimSpace(record[idCol])
		}
		for i, field := range fieldCols {
			if i >= len(record) {
				continue
			}
			if cell := strings.TrimSpace(record[i]); cell != "" {
				row.Fields[field] = cell
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DecodeNewTasks parses a new-task import file. Unlike DecodeRows these
// rows have no task_id; each produces one creation payload.
func (SpreadsheetCodec) DecodeNewTasks(r io.Reader) ([]TaskInput, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	cell := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var inputs []TaskInput
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(inputs)+2, err)
		}

		input := TaskInput{
			ClientID:            cell(record, "client_id"),
			Title:               cell(record, "title"),
			Category:            cell(record, "category"),
			Priority:            cell(record, "priority"),
			AssigneeID:          cell(record, "assignee"),
			Status:              cell(record, "status"),
			StartDate:           cell(record, "start_date"),
			DueDate:             cell(record, "due_date"),
			Notes:               cell(record, "notes"),
			CalendarDescription: cell(record, "calendar_description"),
		}
		if v := cell(record, "override_to"); v != "" {
			input.OverrideTo = SplitEmailList(v)
		}
		if v := cell(record, "override_cc"); v != "" {
			input.OverrideCC = SplitEmailList(v)
		}
		if v := cell(record, "override_bcc"); v != "" {
			input.OverrideBCC = SplitEmailList(v)
		}
		if v := cell(record, "start_mail_enabled"); v != "" {
			b := parseLooseBool(v)
			input.StartMailEnabled = &b
		}
		if v := cell(record, "completion_mail_enabled"); v != "" {
			b := parseLooseBool(v)
			input.CompletionMailEnabled = &b
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

func parseLooseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

var taskExportHeader = []string{
	"task_id", "client_id", "client_name", "title", "category", "priority",
	"assignee", "status", "start_date", "due_date", "notes", "delay_reason",
	"start_mail_enabled", "completion_mail_enabled",
	"series_id", "occurrence_index", "occurrence_total", "version",
}

// EncodeTasks writes tasks as CSV in the same column vocabulary the
// import side reads, so export-edit-import round-trips.
func (SpreadsheetCodec) EncodeTasks(w io.Writer, tasks []model.Task) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(taskExportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i := range tasks {
		t := &tasks[i]
		seriesID := ""
		if t.SeriesID != nil {
			seriesID = *t.SeriesID
		}
		record := []string{
			t.ID, t.ClientID, t.ClientNameSnapshot, t.Title, t.Category, t.Priority,
			t.AssigneeID, t.Status,
			t.StartDate.Format(model.DateLayout), t.DueDate.Format(model.DateLayout),
			t.Notes, t.DelayReason,
			strconv.FormatBool(t.StartMailEnabled), strconv.FormatBool(t.CompletionMailEnabled),
			seriesID, strconv.Itoa(t.OccurrenceIndex), strconv.Itoa(t.OccurrenceTotal),
			strconv.Itoa(t.Version),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing task %s: %w", t.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// EncodeAudit writes audit entries as CSV, oldest first as given.
func (SpreadsheetCodec) EncodeAudit(w io.Writer, entries []model.AuditEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"task_id", "created_at", "actor_id", "field", "prev_value", "new_value", "source"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		record := []string{
			e.TaskID,
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			e.ActorID, e.Field, e.PrevValue, e.NewValue, e.Source,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing audit entry %s: %w", e.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
