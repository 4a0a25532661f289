package controller

import (
	"fmt"
	"log"
	"net/http"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	service "github.com/sahilkadam/complianceos/service"

	"github.com/gin-gonic/gin"
)

// BatchController handles bulk apply, spreadsheet import/export and the
// audit trail export.
type BatchController struct {
	engine *service.ReconcileService
	tasks  *service.TaskService
	search *service.SearchService
	gate   *service.PermissionGate
	codec  service.SpreadsheetCodec
}

// NewBatchController initializes the controller with its services.
func NewBatchController(engine *service.ReconcileService, tasks *service.TaskService, search *service.SearchService, gate *service.PermissionGate) *BatchController {
	return &BatchController{engine: engine, tasks: tasks, search: search, gate: gate}
}

// reindexOutcomes refreshes search documents for every row that changed.
func (c *BatchController) reindexOutcomes(outcomes []service.RowOutcome) {
	if c.search == nil {
		return
	}
	var ids []string
	for _, o := range outcomes {
		if o.Result == service.RowApplied || o.Result == service.RowPartiallyApplied {
			ids = append(ids, o.TaskID)
		}
	}
	c.search.ReindexMany(ids)
}

// summarize counts outcomes by result for the response envelope.
func summarize(outcomes []service.RowOutcome) gin.H {
	counts := map[string]int{}
	for _, o := range outcomes {
		counts[o.Result]++
	}
	return gin.H{
		"total":             len(outcomes),
		"applied":           counts[service.RowApplied],
		"partially_applied": counts[service.RowPartiallyApplied],
		"not_found":         counts[service.RowNotFound],
		"failed":            counts[service.RowFailed],
	}
}

// ApplyBulk applies a JSON batch of row changes.
func (c *BatchController) ApplyBulk(ctx *gin.Context) {
	var req struct {
		Rows []service.RowChange `json:"rows" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid bulk payload", "details": err.Error()})
		return
	}
	if len(req.Rows) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "At least one row is required"})
		return
	}

	outcomes := c.engine.ApplyBatch(actorFrom(ctx), req.Rows, model.SourceBulk)
	c.reindexOutcomes(outcomes)

	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Bulk apply finished",
		"summary":  summarize(outcomes),
		"outcomes": outcomes,
	})
}

// ImportCSV ingests a reconciliation spreadsheet and applies each row
// against existing tasks. Rows never create tasks here.
func (c *BatchController) ImportCSV(ctx *gin.Context) {
	actor := actorFrom(ctx)
	if !c.gate.CanMutate(actor.Role, service.OpImport, "", false) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s may not import spreadsheets", actor.Role)})
		return
	}

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}
	defer file.Close()

	rows, err := c.codec.DecodeRows(file)
	if err != nil {
		log.Printf("[ImportCSV] Error decoding %s: %v", header.Filename, err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Spreadsheet contains no data rows"})
		return
	}

	outcomes := c.engine.ApplyBatch(actor, rows, model.SourceImport)
	c.reindexOutcomes(outcomes)
	log.Printf("[ImportCSV] %s: %d rows processed", header.Filename, len(rows))

	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Import finished",
		"file":     header.Filename,
		"summary":  summarize(outcomes),
		"outcomes": outcomes,
	})
}

// ImportNewCSV creates tasks from a spreadsheet of task definitions.
// This is the explicit creation path; the reconciliation import never
// creates.
func (c *BatchController) ImportNewCSV(ctx *gin.Context) {
	actor := actorFrom(ctx)
	if !c.gate.CanMutate(actor.Role, service.OpImport, "", false) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s may not import spreadsheets", actor.Role)})
		return
	}

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}
	defer file.Close()

	inputs, err := c.codec.DecodeNewTasks(file)
	if err != nil {
		log.Printf("[ImportNewCSV] Error decoding %s: %v", header.Filename, err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if len(inputs) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Spreadsheet contains no data rows"})
		return
	}

	type rowReport struct {
		Row    int    `json:"row"`
		TaskID string `json:"task_id,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	reports := make([]rowReport, 0, len(inputs))
	created := 0
	var createdIDs []string
	for i, input := range inputs {
		task, err := c.tasks.CreateTask(actor, input)
		if err != nil {
			reports = append(reports, rowReport{Row: i + 1, Error: err.Error()})
			continue
		}
		created++
		createdIDs = append(createdIDs, task.ID)
		reports = append(reports, rowReport{Row: i + 1, TaskID: task.ID})
	}
	if c.search != nil {
		c.search.ReindexMany(createdIDs)
	}
	log.Printf("[ImportNewCSV] %s: created %d of %d tasks", header.Filename, created, len(inputs))

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Import finished",
		"file":    header.Filename,
		"created": created,
		"total":   len(inputs),
		"rows":    reports,
	})
}

// ExportTasks streams the filtered work queue as a spreadsheet that
// round-trips through the reconciliation import.
func (c *BatchController) ExportTasks(ctx *gin.Context) {
	actor := actorFrom(ctx)
	if !c.gate.CanMutate(actor.Role, service.OpExport, "", false) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s may not export", actor.Role)})
		return
	}

	filter := service.TaskFilter{
		Status:     ctx.Query("status"),
		ClientID:   ctx.Query("client_id"),
		AssigneeID: ctx.Query("assignee_id"),
		SeriesID:   ctx.Query("series_id"),
		DueFrom:    ctx.Query("due_from"),
		DueTo:      ctx.Query("due_to"),
	}
	tasks, err := c.tasks.ListTasks(filter)
	if err != nil {
		log.Printf("[ExportTasks] Error listing tasks: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("tasks-%s.csv", time.Now().UTC().Format("20060102-150405"))
	ctx.Header("Content-Type", "text/csv")
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := c.codec.EncodeTasks(ctx.Writer, tasks); err != nil {
		log.Printf("[ExportTasks] Error encoding CSV: %v", err)
	}
}

// ExportAudit streams audit entries as a spreadsheet, optionally
// narrowed by task_id or source.
func (c *BatchController) ExportAudit(ctx *gin.Context) {
	actor := actorFrom(ctx)
	if !c.gate.CanMutate(actor.Role, service.OpExport, "", false) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s may not export", actor.Role)})
		return
	}

	entries, err := c.tasks.AuditExport(ctx.Query("task_id"), ctx.Query("source"))
	if err != nil {
		log.Printf("[ExportAudit] Error listing audit entries: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("audit-%s.csv", time.Now().UTC().Format("20060102-150405"))
	ctx.Header("Content-Type", "text/csv")
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := c.codec.EncodeAudit(ctx.Writer, entries); err != nil {
		log.Printf("[ExportAudit] Error encoding CSV: %v", err)
	}
}
