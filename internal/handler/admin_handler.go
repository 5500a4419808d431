package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/internal/repository"
	"github.com/buttermb/menulink/internal/service"
	"github.com/buttermb/menulink/pkg/middleware"
	"github.com/buttermb/menulink/pkg/response"
)

// AdminHandler handles the tenant-scoped management surface. Every
// route sits behind the JWT middleware; the tenant id always comes
// from the token, never from the request body.
type AdminHandler struct {
	lifecycleService service.LifecycleService
	accessService    service.AccessService
	securityEvents   repository.SecurityEventRepository
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(lifecycleService service.LifecycleService, accessService service.AccessService, securityEvents repository.SecurityEventRepository) *AdminHandler {
	return &AdminHandler{
		lifecycleService: lifecycleService,
		accessService:    accessService,
		securityEvents:   securityEvents,
	}
}

func (h *AdminHandler) tenantID(c *gin.Context) (string, bool) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok || tenantID == "" {
		c.JSON(http.StatusUnauthorized, response.Unauthorized("Missing tenant context"))
		return "", false
	}
	return tenantID, true
}

// CreateMenu handles menu creation
// POST /api/v1/admin/menus
func (h *AdminHandler) CreateMenu(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req dto.CreateMenuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.Error(response.ErrCodeValidationFailed, msg))
		return
	}

	result, err := h.lifecycleService.Create(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.InternalError(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(result))
}

// GetMenu handles retrieving one menu
// GET /api/v1/admin/menus/:id
func (h *AdminHandler) GetMenu(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.lifecycleService.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// GetShareLink handles retrieving the current share link for a menu
// GET /api/v1/admin/menus/:id/share-link
func (h *AdminHandler) GetShareLink(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.lifecycleService.GetShareLink(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// ArchiveMenu handles manual archival ahead of schedule
// POST /api/v1/admin/menus/:id/archive
func (h *AdminHandler) ArchiveMenu(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	// confirm tenant ownership before the tenant-free archive path
	if _, err := h.lifecycleService.Get(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		h.writeAdminError(c, err)
		return
	}

	if err := h.lifecycleService.Archive(c.Request.Context(), c.Param("id"), domain.ArchiveReasonManual, time.Now()); err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"status": "archived"}))
}

// ReactivateMenu handles reopening an archived menu with a fresh link
// POST /api/v1/admin/menus/:id/reactivate
func (h *AdminHandler) ReactivateMenu(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req dto.ReactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	if !req.ScheduledDeactivationAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, response.BadRequest("Deactivation time must be in the future"))
		return
	}

	result, err := h.lifecycleService.Reactivate(c.Request.Context(), tenantID, c.Param("id"), &req)
	if err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// BurnMenu handles immediate termination of a menu
// POST /api/v1/admin/menus/:id/burn
func (h *AdminHandler) BurnMenu(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	if err := h.lifecycleService.Burn(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"status": "burned"}))
}

// RecordOrder handles recording an order against a menu
// POST /api/v1/admin/menus/:id/orders
func (h *AdminHandler) RecordOrder(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req dto.RecordOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	if err := h.accessService.RecordOrder(c.Request.Context(), tenantID, c.Param("id"), &req); err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(gin.H{"status": "recorded"}))
}

// ListSnapshots handles retrieving a menu's archival history
// GET /api/v1/admin/menus/:id/snapshots
func (h *AdminHandler) ListSnapshots(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.lifecycleService.Snapshots(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.writeAdminError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// ListExpiring handles the expiring-soon dashboard view
// GET /api/v1/admin/menus/expiring
func (h *AdminHandler) ListExpiring(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.lifecycleService.ExpiringSoon(c.Request.Context(), tenantID, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.InternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// ListSecurityEvents handles retrieving the security log
// GET /api/v1/admin/security-events
func (h *AdminHandler) ListSecurityEvents(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var query dto.ListSecurityEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	query.SetDefaults()

	events, total, err := h.securityEvents.List(c.Request.Context(), tenantID, query.MenuID, query.Severity, query.Page, query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.InternalError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(events, query.Page, query.Limit, int64(total)))
}

func (h *AdminHandler) writeAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrMenuNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("Menu not found"))
	case errors.Is(err, domain.ErrMenuGone):
		c.JSON(http.StatusGone, response.Gone(""))
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, response.Error(response.ErrCodeInvalidTransition, "Menu state does not allow this operation"))
	case errors.Is(err, domain.ErrSchedulerConflict):
		c.JSON(http.StatusConflict, response.Error(response.ErrCodeSchedulerConflict, "Menu was already transitioned"))
	default:
		c.JSON(http.StatusInternalServerError, response.InternalError(err.Error()))
	}
}
