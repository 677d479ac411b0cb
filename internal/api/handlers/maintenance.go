package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sweeper deletes jobs whose deadline has passed.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// Completer finishes released jobs whose completion delay has elapsed.
type Completer interface {
	CompleteDue(ctx context.Context) (int, error)
}

// MaintenanceHandler lets operators run the background loops on demand.
type MaintenanceHandler struct {
	sweeper   Sweeper
	completer Completer
	logger    *zap.Logger
}

func NewMaintenanceHandler(sweeper Sweeper, completer Completer, logger *zap.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceHandler{sweeper: sweeper, completer: completer, logger: logger}
}

func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	swept, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, "sweep failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": swept})
}

func (h *MaintenanceHandler) CompleteDue(c *gin.Context) {
	if h.completer == nil {
		c.JSON(http.StatusOK, gin.H{"completed": 0})
		return
	}
	completed, err := h.completer.CompleteDue(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, "completion pass failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": completed})
}

func (h *MaintenanceHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/sweep", h.Sweep)
	r.POST("/complete-due", h.CompleteDue)
}
