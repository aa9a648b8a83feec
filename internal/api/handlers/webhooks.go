package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/webhook"
)

type WebhookService interface {
	Endpoints() []config.WebhookEndpoint
	SendTest(ctx context.Context, i int) error
}

// WebhookResponse never includes the endpoint secret.
type WebhookResponse struct {
	ID     int      `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Signed bool     `json:"signed"`
}

type TestWebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WebhookHandler struct {
	webhooks WebhookService
}

func NewWebhookHandler(webhooks WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	endpoints := h.webhooks.Endpoints()
	responses := make([]WebhookResponse, 0, len(endpoints))
	for i, ep := range endpoints {
		events := ep.Events
		if events == nil {
			events = []string{}
		}
		responses = append(responses, WebhookResponse{
			ID:     i,
			URL:    ep.URL,
			Events: events,
			Signed: ep.Secret != "",
		})
	}
	c.JSON(http.StatusOK, responses)
}

// TestWebhook reports delivery problems in the body; only an unknown id is
// an HTTP error.
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_id", "Invalid webhook ID")
		return
	}

	if err := h.webhooks.SendTest(c.Request.Context(), id); err != nil {
		if errors.Is(err, webhook.ErrUnknownEndpoint) {
			abort(c, http.StatusNotFound, "not_found", "Webhook not found")
			return
		}
		c.JSON(http.StatusOK, TestWebhookResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to send webhook: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, TestWebhookResponse{
		Success: true,
		Message: "Webhook test successful",
	})
}

func RegisterWebhookRoutes(r *gin.RouterGroup, h *WebhookHandler) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks/:id/test", h.TestWebhook)
}
