package main

import (
	"context"
	"log"
	"net/http"
	"os"

	controller "github.com/sahilkadam/complianceos/controller"
	"github.com/sahilkadam/complianceos/initializers"
	middleware "github.com/sahilkadam/complianceos/middleware"
	service "github.com/sahilkadam/complianceos/service"

	"github.com/gin-gonic/gin"
)

func init() {
	if err := initializers.LoadEnv(); err != nil {
		log.Fatalf("[CRITICAL] Failed to load env: %s", err)
	}
	if err := initializers.ConnectDB(); err != nil {
		log.Fatalf("[CRITICAL] Failed to initialize database connection: %s", err)
	}
	if err := initializers.Migrate(); err != nil {
		log.Fatalf("[CRITICAL] Failed to run database migrations: %s", err)
	}
}

func main() {
	db := initializers.DB

	store := service.NewGormTaskStore(db)
	gate := service.NewPermissionGate()
	identity := service.NewIdentityService(db)

	calendarService, err := service.NewCalendarServiceFromEnv(context.Background())
	if err != nil {
		log.Printf("Warning: calendar integration disabled: %v", err)
		calendarService = nil
	}
	var calendar service.CalendarTransport
	if calendarService != nil {
		calendar = calendarService
	}

	fileStore, err := service.NewS3FileStoreFromEnv()
	if err != nil {
		log.Printf("Warning: attachment storage disabled: %v", err)
		fileStore = nil
	}
	var attachmentService *service.AttachmentService
	if fileStore != nil {
		attachmentService = service.NewAttachmentService(db, gate, store, fileStore)
	}
	searchService := service.NewSearchService(db)

	emailService := service.NewEmailService(db, service.NewSMTPTransportFromEnv())
	effects := service.NewSideEffects(store, emailService, calendar)
	engine := service.NewReconcileService(store, gate, effects)
	taskService := service.NewTaskService(db, store, gate, engine, effects, calendar)
	seriesService := service.NewSeriesService(db, gate, calendar)
	clientService := service.NewClientService(db, gate)
	userService := service.NewUserService(db, gate)
	templateService := service.NewTemplateService(db, gate)
	sweepService := service.NewSweepService(db, effects, identity)

	taskController := controller.NewTaskController(taskService, searchService, attachmentService)
	batchController := controller.NewBatchController(engine, taskService, searchService, gate)
	seriesController := controller.NewSeriesController(seriesService, searchService)
	adminController := controller.NewAdminController(clientService, userService, templateService, sweepService, gate)

	if err := sweepService.Start(); err != nil {
		log.Fatalf("[CRITICAL] Failed to start sweep scheduler: %s", err)
	}

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.GlobalRateLimiter.Limit())

	// Healthcheck endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Everything below resolves the caller from X-Api-Token.
	api := router.Group("/", middleware.Identity(identity))

	api.POST("/tasks", taskController.CreateTask)
	api.GET("/tasks", taskController.ListTasks)
	api.GET("/tasks/:id", taskController.GetTask)
	api.PATCH("/tasks/:id", taskController.UpdateTask)
	api.POST("/tasks/:id/status", taskController.SetStatus)
	api.POST("/tasks/:id/reopen", taskController.Reopen)
	api.DELETE("/tasks/:id", taskController.DeleteTask)
	api.POST("/tasks/:id/comments", taskController.AddComment)
	api.GET("/tasks/:id/comments", taskController.ListComments)
	api.GET("/tasks/:id/audit", taskController.GetAudit)
	api.POST("/tasks/:id/attachments", taskController.UploadAttachment)
	api.GET("/tasks/:id/attachments", taskController.ListAttachments)
	api.DELETE("/attachments/:id", taskController.DeleteAttachment)
	api.GET("/search", taskController.SearchTasks)

	// Bulk surfaces get a tighter rate limit
	api.POST("/tasks/bulk",
		middleware.BulkRateLimiter.Limit(),
		batchController.ApplyBulk)
	api.POST("/tasks/import",
		middleware.BulkRateLimiter.Limit(),
		batchController.ImportCSV)
	api.POST("/tasks/import-new",
		middleware.BulkRateLimiter.Limit(),
		batchController.ImportNewCSV)
	api.GET("/tasks/export",
		middleware.BulkRateLimiter.Limit(),
		batchController.ExportTasks)
	api.GET("/audit/export",
		middleware.BulkRateLimiter.Limit(),
		batchController.ExportAudit)

	api.POST("/series", seriesController.CreateSeries)
	api.GET("/series", seriesController.ListSeries)
	api.GET("/series/:id", seriesController.GetSeries)
	api.POST("/series/:id/extend", seriesController.ExtendSeries)
	api.DELETE("/series/:id", seriesController.DeleteSeries)

	api.GET("/clients", adminController.ListClients)
	api.GET("/clients/:id", adminController.GetClient)
	api.POST("/clients",
		middleware.AdminRateLimiter.Limit(),
		adminController.CreateClient)
	api.PUT("/clients/:id",
		middleware.AdminRateLimiter.Limit(),
		adminController.UpdateClient)
	api.DELETE("/clients/:id",
		middleware.AdminRateLimiter.Limit(),
		adminController.DeleteClient)

	api.GET("/users", adminController.ListUsers)
	api.GET("/users/:id", adminController.GetUser)
	api.POST("/users",
		middleware.AdminRateLimiter.Limit(),
		adminController.CreateUser)
	api.PUT("/users/:id/role",
		middleware.AdminRateLimiter.Limit(),
		adminController.SetRole)
	api.POST("/users/:id/rotate-token",
		middleware.AdminRateLimiter.Limit(),
		adminController.RotateToken)
	api.DELETE("/users/:id",
		middleware.AdminRateLimiter.Limit(),
		adminController.DeleteUser)

	api.GET("/templates", adminController.ListTemplates)
	api.GET("/templates/:kind", adminController.GetTemplate)
	api.PUT("/templates/:kind",
		middleware.AdminRateLimiter.Limit(),
		adminController.UpsertTemplate)

	api.POST("/admin/sweep",
		middleware.AdminRateLimiter.Limit(),
		adminController.TriggerSweep)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	router.Run(":" + port)
}
