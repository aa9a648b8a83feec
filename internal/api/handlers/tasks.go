package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/format"
	"github.com/orrn/printq/internal/store/sqlite"
)

// TaskScheduler accepts tasks for printing.
type TaskScheduler interface {
	AddTask(ctx context.Context, task *core.Task) (string, error)
	Stats() core.Stats
}

type TaskReader interface {
	Get(ctx context.Context, id string) (*core.TaskSnapshot, error)
}

// TaskLister is implemented by stores that can page through task history.
type TaskLister interface {
	ListTasks(ctx context.Context, filter sqlite.TaskFilter) ([]*sqlite.TaskRecord, error)
}

// PrinterResolver rejects unknown printer names before a task is queued.
type PrinterResolver interface {
	Resolve(target string) (string, error)
}

type CreateTaskRequest struct {
	Content     string `json:"content" binding:"required"`
	PrinterName string `json:"printer_name"`
	Priority    string `json:"priority"`
}

type CreateOrdersRequest struct {
	PrinterName string         `json:"printer_name"`
	Priority    string         `json:"priority"`
	Orders      []format.Order `json:"orders" binding:"required,min=1"`
}

type ListTasksQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

type TaskHandler struct {
	scheduler TaskScheduler
	reader    TaskReader
	printers  PrinterResolver
	slips     *format.SlipGenerator
}

func NewTaskHandler(scheduler TaskScheduler, reader TaskReader, printers PrinterResolver, slips *format.SlipGenerator) *TaskHandler {
	if slips == nil {
		slips = format.NewSlipGenerator()
	}
	return &TaskHandler{
		scheduler: scheduler,
		reader:    reader,
		printers:  printers,
		slips:     slips,
	}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	priority, ok := h.validate(c, req.PrinterName, req.Priority)
	if !ok {
		return
	}

	task := core.NewTask(req.Content, req.PrinterName)
	task.Priority = priority

	id, err := h.scheduler.AddTask(c.Request.Context(), task)
	if err != nil {
		submitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

// CreateOrders formats each order as a delivery slip and queues one task per
// slip. Orders after the first rejected one are not queued.
func (h *TaskHandler) CreateOrders(c *gin.Context) {
	var req CreateOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	for i := range req.Orders {
		if err := req.Orders[i].Validate(); err != nil {
			abort(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}

	priority, ok := h.validate(c, req.PrinterName, req.Priority)
	if !ok {
		return
	}

	ids := make([]string, 0, len(req.Orders))
	for _, slip := range h.slips.GenerateAll(req.Orders) {
		task := core.NewTask(slip, req.PrinterName)
		task.Priority = priority

		id, err := h.scheduler.AddTask(c.Request.Context(), task)
		if err != nil {
			submitError(c, err)
			return
		}
		ids = append(ids, id)
	}

	c.JSON(http.StatusAccepted, gin.H{"task_ids": ids})
}

func (h *TaskHandler) validate(c *gin.Context, printerName, rawPriority string) (core.Priority, bool) {
	priority, err := core.ParsePriority(rawPriority)
	if err != nil {
		abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return "", false
	}
	if h.printers != nil {
		if _, err := h.printers.Resolve(printerName); err != nil {
			abort(c, http.StatusBadRequest, "unknown_printer", err.Error())
			return "", false
		}
	}
	return priority, true
}

func submitError(c *gin.Context, err error) {
	switch core.KindOf(err) {
	case core.KindQueueFull:
		abort(c, http.StatusServiceUnavailable, string(core.KindQueueFull), "Print queue is full, try again later")
	case core.KindInterrupted:
		abort(c, http.StatusServiceUnavailable, string(core.KindInterrupted), "Task submission was interrupted")
	default:
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to queue task")
	}
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	snap, err := h.reader.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, core.ErrTaskNotFound) {
			abort(c, http.StatusNotFound, "not_found", "Task not found")
			return
		}
		abort(c, http.StatusInternalServerError, "database_error", "Failed to retrieve task")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	lister, ok := h.reader.(TaskLister)
	if !ok {
		abort(c, http.StatusNotImplemented, "not_supported", "Task history is not available for this storage backend")
		return
	}

	var query ListTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}

	records, err := lister.ListTasks(c.Request.Context(), sqlite.TaskFilter{
		Status: core.TaskStatus(query.Status),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to list tasks")
		return
	}
	if records == nil {
		records = []*sqlite.TaskRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (h *TaskHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Stats())
}

func RegisterTaskRoutes(r *gin.RouterGroup, h *TaskHandler) {
	r.POST("/tasks", h.CreateTask)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:id", h.GetTask)
	r.POST("/orders", h.CreateOrders)
	r.GET("/queue", h.GetQueue)
}
