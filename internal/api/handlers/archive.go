package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type ArchiveService interface {
	Enabled() bool
	Retention() time.Duration
	Interval() time.Duration
	RunArchive(ctx context.Context) (int64, error)
}

type ArchiveSettingsResponse struct {
	Enabled       bool   `json:"enabled"`
	Retention     string `json:"retention"`
	PruneInterval string `json:"prune_interval"`
}

type ArchiveHandler struct {
	archiver ArchiveService
}

func NewArchiveHandler(archiver ArchiveService) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

func (h *ArchiveHandler) GetArchiveSettings(c *gin.Context) {
	c.JSON(http.StatusOK, ArchiveSettingsResponse{
		Enabled:       h.archiver.Enabled(),
		Retention:     h.archiver.Retention().String(),
		PruneInterval: h.archiver.Interval().String(),
	})
}

// TriggerArchive prunes finished tasks now instead of waiting for the next
// interval.
func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	if !h.archiver.Enabled() {
		abort(c, http.StatusBadRequest, "retention_disabled", "Task retention is not configured")
		return
	}

	removed, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, "archive_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func RegisterArchiveRoutes(r *gin.RouterGroup, h *ArchiveHandler) {
	r.GET("/archive/settings", h.GetArchiveSettings)
	r.POST("/archive/run", h.TriggerArchive)
}
