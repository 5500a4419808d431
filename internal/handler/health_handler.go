package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/buttermb/menulink/internal/worker"
	"github.com/buttermb/menulink/pkg/database"
	"github.com/buttermb/menulink/pkg/response"
)

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	db     *database.PostgresDB
	worker *worker.LifecycleWorker
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.PostgresDB, worker *worker.LifecycleWorker) *HealthHandler {
	return &HealthHandler{db: db, worker: worker}
}

// Health handles liveness checks
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(gin.H{"status": "ok"}))
}

// Ready handles readiness checks, verifying the database connection
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, response.ServiceUnavailable("database unreachable"))
		return
	}
	c.JSON(http.StatusOK, response.Success(gin.H{"status": "ready"}))
}

// Stats exposes lifecycle worker statistics for operators
// GET /health/stats
func (h *HealthHandler) Stats(c *gin.Context) {
	if h.worker == nil {
		c.JSON(http.StatusOK, response.Success(gin.H{}))
		return
	}
	c.JSON(http.StatusOK, response.Success(h.worker.GetStats()))
}
