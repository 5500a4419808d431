package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/internal/service"
	"github.com/buttermb/menulink/pkg/response"
)

// AccessHandler handles the customer-facing access surface
type AccessHandler struct {
	accessService service.AccessService
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(accessService service.AccessService) *AccessHandler {
	return &AccessHandler{accessService: accessService}
}

// Validate handles an access attempt against a shared link
// POST /api/v1/access
func (h *AccessHandler) Validate(c *gin.Context) {
	var req dto.AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	result, err := h.accessService.Validate(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		h.writeAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// Resolve handles a bare link open from the viewer page. Forum-type
// menus answer with a redirect; menus with an access code answer 401
// so the page can prompt for it.
// GET /m/:token
func (h *AccessHandler) Resolve(c *gin.Context) {
	req := dto.AccessRequest{
		URLToken:    c.Param("token"),
		AccessCode:  c.Query("code"),
		CustomerRef: c.Query("ref"),
	}

	result, err := h.accessService.Validate(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		h.writeAccessError(c, err)
		return
	}

	if result.RedirectURL != "" {
		c.Redirect(http.StatusFound, result.RedirectURL)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// ReportScreenshot handles a screenshot detection fired by the viewer page
// POST /api/v1/access/screenshot-report
func (h *AccessHandler) ReportScreenshot(c *gin.Context) {
	var req dto.ScreenshotReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	h.accessService.ReportScreenshot(c.Request.Context(), &req, c.ClientIP())

	// always accepted; the answer never reveals whether the token was real
	c.JSON(http.StatusAccepted, response.Success(gin.H{"status": "received"}))
}

// writeAccessError maps pipeline errors to customer-facing answers.
// The bodies stay deliberately flat: a customer never learns whether a
// menu exists, only whether this attempt worked.
func (h *AccessHandler) writeAccessError(c *gin.Context, err error) {
	var rle *service.RateLimitedError

	switch {
	case errors.As(err, &rle):
		c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, response.TooManyRequests(""))
	case errors.Is(err, domain.ErrAccessCodeRequired):
		c.JSON(http.StatusUnauthorized, response.Error(response.ErrCodeAccessCodeRequired, "A valid access code is required"))
	case errors.Is(err, domain.ErrMenuGone):
		c.JSON(http.StatusGone, response.Gone(""))
	case errors.Is(err, domain.ErrMenuNotFound), errors.Is(err, domain.ErrNotWhitelisted):
		// same body as an unknown token; membership leaks nothing
		c.JSON(http.StatusNotFound, response.NotFound("Menu not found"))
	default:
		c.JSON(http.StatusServiceUnavailable, response.ServiceUnavailable(""))
	}
}
