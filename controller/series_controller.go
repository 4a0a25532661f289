package controller

import (
	"log"
	"net/http"

	model "github.com/sahilkadam/complianceos/models"
	service "github.com/sahilkadam/complianceos/service"

	"github.com/gin-gonic/gin"
)

// SeriesController manages recurring task series definitions.
type SeriesController struct {
	series *service.SeriesService
	search *service.SearchService
}

// NewSeriesController initializes the controller with its services.
func NewSeriesController(series *service.SeriesService, search *service.SearchService) *SeriesController {
	return &SeriesController{series: series, search: search}
}

func (c *SeriesController) indexTasks(tasks []model.Task) {
	if c.search == nil {
		return
	}
	for i := range tasks {
		_ = c.search.IndexTask(&tasks[i])
	}
}

// CreateSeries defines a series and materializes its occurrences.
func (c *SeriesController) CreateSeries(ctx *gin.Context) {
	var input service.SeriesInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid series payload", "details": err.Error()})
		return
	}

	series, tasks, err := c.series.CreateSeries(actorFrom(ctx), input)
	if err != nil {
		log.Printf("[CreateSeries] Error creating series: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.indexTasks(tasks)

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Series created successfully",
		"series":  series,
		"tasks":   tasks,
	})
}

// ListSeries returns series definitions, optionally for one client.
func (c *SeriesController) ListSeries(ctx *gin.Context) {
	series, err := c.series.ListSeries(ctx.Query("client_id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"series": series,
		"total":  len(series),
	})
}

// GetSeries returns one series and its generated tasks.
func (c *SeriesController) GetSeries(ctx *gin.Context) {
	series, tasks, err := c.series.GetSeries(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"series": series,
		"tasks":  tasks,
	})
}

// ExtendSeries generates further occurrences past the watermark.
func (c *SeriesController) ExtendSeries(ctx *gin.Context) {
	var req struct {
		Additional int `json:"additional"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid extend payload", "details": err.Error()})
		return
	}

	tasks, err := c.series.Extend(actorFrom(ctx), ctx.Param("id"), req.Additional)
	if err != nil {
		log.Printf("[ExtendSeries] Error extending series %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.indexTasks(tasks)

	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Series extended successfully",
		"generated": len(tasks),
		"tasks":     tasks,
	})
}

// DeleteSeries removes a series definition. Generated tasks survive.
func (c *SeriesController) DeleteSeries(ctx *gin.Context) {
	if err := c.series.DeleteSeries(actorFrom(ctx), ctx.Param("id")); err != nil {
		log.Printf("[DeleteSeries] Error deleting series %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Series deleted successfully"})
}
