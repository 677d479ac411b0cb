package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
)

// WebhookStore is the webhook persistence the handler manages.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *db.Webhook) error
	GetWebhookByID(ctx context.Context, id int64) (*db.Webhook, error)
	ListWebhooks(ctx context.Context) ([]*db.Webhook, error)
	UpdateWebhook(ctx context.Context, w *db.Webhook) error
	DeleteWebhook(ctx context.Context, id int64) error
}

// WebhookTester delivers a synthetic event to one webhook.
type WebhookTester interface {
	SendTest(ctx context.Context, id int64) error
}

type WebhookHandler struct {
	store  WebhookStore
	tester WebhookTester
	logger *zap.Logger
}

type CreateWebhookRequest struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required,url"`
	Secret string   `json:"secret"`
	Events []string `json:"events" binding:"required"`
}

type UpdateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url" binding:"omitempty,url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

// WebhookResponse never echoes the signing secret.
type WebhookResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	HasSecret bool      `json:"hasSecret"`
	CreatedAt time.Time `json:"createdAt"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewWebhookHandler(store WebhookStore, tester WebhookTester, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{store: store, tester: tester, logger: logger}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	webhooks, err := h.store.ListWebhooks(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, "failed to retrieve webhooks", err)
		return
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookToResponse(w))
	}
	c.JSON(http.StatusOK, responses)
}

func (h *WebhookHandler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Events) == 0 {
		badRequest(c, "at least one event must be specified")
		return
	}
	if err := validateEvents(req.Events); err != nil {
		badRequest(c, err.Error())
		return
	}

	w := &db.Webhook{
		Name:    req.Name,
		URL:     req.URL,
		Secret:  req.Secret,
		Events:  req.Events,
		Enabled: true,
	}
	if err := h.store.CreateWebhook(c.Request.Context(), w); err != nil {
		internalError(c, h.logger, "failed to create webhook", err)
		return
	}

	h.logger.Info("webhook created", zap.Int64("webhook_id", w.ID), zap.Strings("events", w.Events))
	c.JSON(http.StatusCreated, webhookToResponse(w))
}

func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.Name != "" {
		w.Name = req.Name
	}
	if req.URL != "" {
		w.URL = req.URL
	}
	if req.Secret != "" {
		w.Secret = req.Secret
	}
	if len(req.Events) > 0 {
		if err := validateEvents(req.Events); err != nil {
			badRequest(c, err.Error())
			return
		}
		w.Events = req.Events
	}
	if req.Enabled != nil {
		w.Enabled = *req.Enabled
	}

	if err := h.store.UpdateWebhook(c.Request.Context(), w); err != nil {
		internalError(c, h.logger, "failed to update webhook", err)
		return
	}
	c.JSON(http.StatusOK, webhookToResponse(w))
}

func (h *WebhookHandler) DeleteWebhook(c *gin.Context) {
	id, ok := webhookID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteWebhook(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			notFound(c, "webhook not found")
			return
		}
		internalError(c, h.logger, "failed to delete webhook", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TestWebhook reports delivery failures in the body; the request itself
// succeeds whenever the webhook exists.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	w, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.tester.SendTest(c.Request.Context(), w.ID); err != nil {
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("webhook test failed: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, TestWebhookResponse{Success: true, Message: "webhook test delivered"})
}

func (h *WebhookHandler) lookup(c *gin.Context) (*db.Webhook, bool) {
	id, ok := webhookID(c)
	if !ok {
		return nil, false
	}

	w, err := h.store.GetWebhookByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			notFound(c, "webhook not found")
			return nil, false
		}
		internalError(c, h.logger, "failed to retrieve webhook", err)
		return nil, false
	}
	return w, true
}

func webhookID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid webhook id")
		return 0, false
	}
	return id, true
}

func validateEvents(events []string) error {
	for _, event := range events {
		if !core.IsValidEvent(event) {
			return fmt.Errorf("invalid event type: %s", event)
		}
	}
	return nil
}

func webhookToResponse(w *db.Webhook) WebhookResponse {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		Events:    events,
		Enabled:   w.Enabled,
		HasSecret: w.Secret != "",
		CreatedAt: w.CreatedAt,
	}
}

func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks/:id", h.GetWebhook)
	r.PUT("/webhooks/:id", h.UpdateWebhook)
	r.DELETE("/webhooks/:id", h.DeleteWebhook)
	r.POST("/webhooks/:id/test", h.TestWebhook)
}
