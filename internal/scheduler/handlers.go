package scheduler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the scheduler control surface.
type Handler struct {
	runner *Runner
	timer  *Timer
}

// NewHandler creates a scheduler handler.
func NewHandler(runner *Runner, timer *Timer) *Handler {
	return &Handler{runner: runner, timer: timer}
}

// RegisterAdminRoutes sets up admin-only scheduler routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/scheduler", h.GetStatus)
	r.POST("/admin/scheduler/start", h.Start)
	r.POST("/admin/scheduler/stop", h.Stop)
	r.POST("/admin/scheduler/run", h.RunNow)
}

// GetStatus handles GET /v1/admin/scheduler
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.timer.Running()})
}

// Start handles POST /v1/admin/scheduler/start
//
// The tick loop must outlive this request, so its context drops the
// request's cancellation.
func (h *Handler) Start(c *gin.Context) {
	started := h.timer.Start(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{
		"running": true,
		"started": started,
	})
}

// Stop handles POST /v1/admin/scheduler/stop
func (h *Handler) Stop(c *gin.Context) {
	h.timer.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// RunNow handles POST /v1/admin/scheduler/run
//
// Triggers one reconciliation pass immediately, used for operational
// recovery. Reports Skipped if a pass is already in flight.
func (h *Handler) RunNow(c *gin.Context) {
	result := h.runner.Run(c.Request.Context())
	status := http.StatusOK
	if result.Skipped {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}
