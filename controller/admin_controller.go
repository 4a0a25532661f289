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

// AdminController manages clients, team members, mail templates and the
// manual sweep trigger.
type AdminController struct {
	clients   *service.ClientService
	users     *service.UserService
	templates *service.TemplateService
	sweep     *service.SweepService
	gate      *service.PermissionGate
}

// NewAdminController initializes the controller with its services.
func NewAdminController(clients *service.ClientService, users *service.UserService, templates *service.TemplateService, sweep *service.SweepService, gate *service.PermissionGate) *AdminController {
	return &AdminController{clients: clients, users: users, templates: templates, sweep: sweep, gate: gate}
}

// userView is the user shape returned over HTTP. API tokens only appear
// in the create and rotate responses, never in lists or lookups.
type userView struct {
	ID        string
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func redactUser(u model.User) userView {
	return userView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// CreateClient registers a client.
func (c *AdminController) CreateClient(ctx *gin.Context) {
	var input service.ClientInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client payload", "details": err.Error()})
		return
	}

	client, err := c.clients.CreateClient(actorFrom(ctx), input)
	if err != nil {
		log.Printf("[CreateClient] Error creating client: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Client created successfully",
		"client":  client,
	})
}

// ListClients returns all clients. Reads are open to every role.
func (c *AdminController) ListClients(ctx *gin.Context) {
	clients, err := c.clients.ListClients()
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"clients": clients,
		"total":   len(clients),
	})
}

// GetClient returns one client.
func (c *AdminController) GetClient(ctx *gin.Context) {
	client, err := c.clients.GetClient(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"client": client})
}

// UpdateClient changes client details and mail defaults.
func (c *AdminController) UpdateClient(ctx *gin.Context) {
	var input service.ClientInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid client payload", "details": err.Error()})
		return
	}

	client, err := c.clients.UpdateClient(actorFrom(ctx), ctx.Param("id"), input)
	if err != nil {
		log.Printf("[UpdateClient] Error updating client %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Client updated successfully",
		"client":  client,
	})
}

// DeleteClient removes a client with no remaining tasks.
func (c *AdminController) DeleteClient(ctx *gin.Context) {
	if err := c.clients.DeleteClient(actorFrom(ctx), ctx.Param("id")); err != nil {
		log.Printf("[DeleteClient] Error deleting client %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Client deleted successfully"})
}

// CreateUser adds a team member. The response carries the generated API
// token; it is not retrievable afterwards.
func (c *AdminController) CreateUser(ctx *gin.Context) {
	var input service.UserInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user payload", "details": err.Error()})
		return
	}

	user, err := c.users.CreateUser(actorFrom(ctx), input)
	if err != nil {
		log.Printf("[CreateUser] Error creating user: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"message":   "User created successfully",
		"user":      redactUser(*user),
		"api_token": user.APIToken,
	})
}

// ListUsers returns the team without tokens.
func (c *AdminController) ListUsers(ctx *gin.Context) {
	users, err := c.users.ListUsers()
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, redactUser(u))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"users": views,
		"total": len(views),
	})
}

// GetUser returns one team member without their token.
func (c *AdminController) GetUser(ctx *gin.Context) {
	user, err := c.users.GetUser(ctx.Param("id"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"user": redactUser(*user)})
}

// SetRole changes a team member's role.
func (c *AdminController) SetRole(ctx *gin.Context) {
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Role required", "details": err.Error()})
		return
	}

	user, err := c.users.SetRole(actorFrom(ctx), ctx.Param("id"), req.Role)
	if err != nil {
		log.Printf("[SetRole] Error on user %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Role updated successfully",
		"user":    redactUser(*user),
	})
}

// RotateToken issues a fresh API token, shown once in the response.
func (c *AdminController) RotateToken(ctx *gin.Context) {
	user, err := c.users.RotateToken(actorFrom(ctx), ctx.Param("id"))
	if err != nil {
		log.Printf("[RotateToken] Error on user %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Token rotated successfully",
		"user":      redactUser(*user),
		"api_token": user.APIToken,
	})
}

// DeleteUser removes a team member with no assigned tasks.
func (c *AdminController) DeleteUser(ctx *gin.Context) {
	if err := c.users.DeleteUser(actorFrom(ctx), ctx.Param("id")); err != nil {
		log.Printf("[DeleteUser] Error deleting user %s: %v", ctx.Param("id"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// GetTemplate returns a mail template, falling back to the built-in
// defaults when none is stored.
func (c *AdminController) GetTemplate(ctx *gin.Context) {
	tpl, err := c.templates.GetTemplate(ctx.Param("kind"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"template": tpl})
}

// ListTemplates returns all stored mail templates.
func (c *AdminController) ListTemplates(ctx *gin.Context) {
	templates, err := c.templates.ListTemplates()
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}

// UpsertTemplate stores a mail template for a trigger kind.
func (c *AdminController) UpsertTemplate(ctx *gin.Context) {
	var req struct {
		Subject string `json:"subject" binding:"required"`
		Body    string `json:"body" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Subject and body required", "details": err.Error()})
		return
	}

	tpl, err := c.templates.UpsertTemplate(actorFrom(ctx), ctx.Param("kind"), req.Subject, req.Body)
	if err != nil {
		log.Printf("[UpsertTemplate] Error on kind %s: %v", ctx.Param("kind"), err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":  "Template saved successfully",
		"template": tpl,
	})
}

// TriggerSweep runs the start-date sweep immediately.
func (c *AdminController) TriggerSweep(ctx *gin.Context) {
	actor := actorFrom(ctx)
	if !c.gate.CanMutate(actor.Role, service.OpSweep, "", false) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("role %s may not trigger the sweep", actor.Role)})
		return
	}

	count, err := c.sweep.Sweep()
	if err != nil {
		log.Printf("[TriggerSweep] Sweep failed: %v", err)
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":   "Sweep finished",
		"processed": count,
	})
}
