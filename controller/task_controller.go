package controller

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	service "github.com/sahilkadam/complianceos/service"

	"github.com/gin-gonic/gin"
)

// actorFrom returns the identity the middleware resolved for this
// request.
func actorFrom(ctx *gin.Context) *service.Actor {
	v, ok := ctx.Get("actor")
	if !ok {
		return nil
	}
	actor, _ := v.(*service.Actor)
	return actor
}

// statusFor maps the service error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// TaskController manages HTTP requests for single-task operations.
type TaskController struct {
	tasks       *service.TaskService
	search      *service.SearchService
	attachments *service.AttachmentService
}

// NewTaskController initializes the controller with its services.
func NewTaskController(tasks *service.TaskService, search *service.SearchService, attachments *service.AttachmentService) *TaskController {
	return &TaskController{tasks: tasks, search: search, attachments: attachments}
}

// CreateTask handles standalone task creation.
func (c *TaskController) CreateTask(ctx *gin.Context) {
	var input service.TaskInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task payload", "details": err.Error()})
		return
	}

	task, err := c.tasks.CreateTask(actorFrom(ctx), input)
	if err != nil {
		log.Printf("[CreateTask] Error creating task: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if c.search != nil {
		_ = c.search.IndexTask(task)
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Task created successfully",
		"task":    task,
	})
}

// ListTasks returns the filtered work queue.
func (c *TaskController) ListTasks(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))
	filter := service.TaskFilter{
		Status:     ctx.Query("status"),
		ClientID:   ctx.Query("client_id"),
		AssigneeID: ctx.Query("assignee_id"),
		SeriesID:   ctx.Query("series_id"),
		DueFrom:    ctx.Query("due_from"),
		DueTo:      ctx.Query("due_to"),
		Limit:      limit,
		Offset:     offset,
	}

	tasks, err := c.tasks.ListTasks(filter)
	if err != nil {
		log.Printf("[ListTasks] Error listing tasks: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// GetTask returns one task.
func (c *TaskController) GetTask(ctx *gin.Context) {
	task, err := c.tasks.GetTask(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"task": task})
}

// UpdateTask applies a field map to one task.
func (c *TaskController) UpdateTask(ctx *gin.Context) {
	var req struct {
		Fields map[string]string `json:"fields" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid update payload", "details": err.Error()})
		return
	}

	task, err := c.tasks.UpdateTask(actorFrom(ctx), ctx.Param("id"), req.Fields)
	if err != nil {
		log.Printf("[UpdateTask] Error updating task %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if c.search != nil {
		c.search.ReindexByID(task.ID)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Task updated successfully",
		"task":    task,
	})
}

// SetStatus moves a task through the lifecycle.
func (c *TaskController) SetStatus(ctx *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Status required", "details": err.Error()})
		return
	}

	task, err := c.tasks.SetStatus(actorFrom(ctx), ctx.Param("id"), req.Status)
	if err != nil {
		log.Printf("[SetStatus] Error on task %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if c.search != nil {
		c.search.ReindexByID(task.ID)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Status updated successfully",
		"task":    task,
	})
}

// Reopen moves a completed task back to an active status.
func (c *TaskController) Reopen(ctx *gin.Context) {
	var req struct {
		Target string `json:"target" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Reopen target required", "details": err.Error()})
		return
	}

	task, err := c.tasks.Reopen(actorFrom(ctx), ctx.Param("id"), req.Target)
	if err != nil {
		log.Printf("[Reopen] Error on task %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if c.search != nil {
		c.search.ReindexByID(task.ID)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Task reopened successfully",
		"task":    task,
	})
}

// DeleteTask removes one task. Attachment rows cascade with it, so
// their object references are captured up front and the objects
// reclaimed once the delete has gone through.
func (c *TaskController) DeleteTask(ctx *gin.Context) {
	taskID := ctx.Param("id")
	var orphanRefs []string
	if c.attachments != nil {
		orphanRefs = c.attachments.ObjectRefs(taskID)
	}
	if err := c.tasks.DeleteTask(actorFrom(ctx), taskID); err != nil {
		log.Printf("[DeleteTask] Error deleting task %s: %v", taskID, err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if c.search != nil {
		c.search.RemoveTask(taskID)
	}
	if c.attachments != nil {
		c.attachments.RemoveObjects(orphanRefs)
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Task deleted successfully"})
}

// AddComment appends a comment to a task.
func (c *TaskController) AddComment(ctx *gin.Context) {
	var req struct {
		Body string `json:"body" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Comment body required", "details": err.Error()})
		return
	}

	comment, err := c.tasks.AddComment(actorFrom(ctx), ctx.Param("id"), req.Body)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Comment added successfully",
		"comment": comment,
	})
}

// ListComments returns a task's comments.
func (c *TaskController) ListComments(ctx *gin.Context) {
	comments, err := c.tasks.ListComments(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"comments": comments,
		"total":    len(comments),
	})
}

// GetAudit returns a task's audit trail.
func (c *TaskController) GetAudit(ctx *gin.Context) {
	entries, err := c.tasks.Audit(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// UploadAttachment stores a file against a task.
func (c *TaskController) UploadAttachment(ctx *gin.Context) {
	if c.attachments == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "Attachment storage is not configured"})
		return
	}
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Failed to get file from request"})
		return
	}
	defer file.Close()

	attachment, err := c.attachments.Upload(actorFrom(ctx), ctx.Param("id"), file, header)
	if err != nil {
		log.Printf("[UploadAttachment] Error on task %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":    "Attachment uploaded successfully",
		"attachment": attachment,
	})
}

// ListAttachments returns a task's attachments.
func (c *TaskController) ListAttachments(ctx *gin.Context) {
	if c.attachments == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "Attachment storage is not configured"})
		return
	}
	attachments, err := c.attachments.List(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"attachments": attachments,
		"total":       len(attachments),
	})
}

// DeleteAttachment removes an attachment.
func (c *TaskController) DeleteAttachment(ctx *gin.Context) {
	if c.attachments == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "Attachment storage is not configured"})
		return
	}
	if err := c.attachments.Delete(actorFrom(ctx), ctx.Param("id")); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Attachment deleted successfully"})
}

// SearchTasks runs the free-text search.
func (c *TaskController) SearchTasks(ctx *gin.Context) {
	query := ctx.Query("q")
	if query == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'q' is required"})
		return
	}

	results, err := c.search.SearchTasks(query)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Search completed successfully",
		"results": results,
	})
}
