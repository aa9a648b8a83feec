package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/printer"
)

type PrinterService interface {
	ListPrinters() []printer.Printer
	GetPrinter(name string) (printer.Printer, error)
	CheckStatus(ctx context.Context, name string) (*printer.PrinterStatus, error)
	Pause(name string) error
	Resume(name string) error
}

type PrinterStatusResponse struct {
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	PrinterState string    `json:"printer_state"`
	Warning      string    `json:"warning"`
	Error        string    `json:"error"`
	MediaError   string    `json:"media_error"`
	IsOnline     bool      `json:"is_online"`
	CanPrint     bool      `json:"can_print"`
	LastChecked  time.Time `json:"last_checked"`
	Message      string    `json:"message,omitempty"`
}

type PrinterHandler struct {
	printers PrinterService
}

func NewPrinterHandler(printers PrinterService) *PrinterHandler {
	return &PrinterHandler{printers: printers}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, h.printers.ListPrinters())
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	p, err := h.printers.GetPrinter(c.Param("name"))
	if err != nil {
		printerError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetPrinterStatus probes the printer now. An unreachable printer is reported
// as offline rather than as a request failure.
func (h *PrinterHandler) GetPrinterStatus(c *gin.Context) {
	name := c.Param("name")
	status, err := h.printers.CheckStatus(c.Request.Context(), name)
	if err != nil && isLookupError(err) {
		printerError(c, err)
		return
	}

	p, lookupErr := h.printers.GetPrinter(name)
	if lookupErr != nil {
		printerError(c, lookupErr)
		return
	}

	resp := PrinterStatusResponse{
		Name:   p.Name,
		Status: p.Status,
	}
	if status != nil {
		resp.PrinterState = status.PrinterState
		resp.Warning = status.Warning
		resp.Error = status.Error
		resp.MediaError = status.MediaError
		resp.IsOnline = status.IsOnline
		resp.CanPrint = status.CanPrint
		resp.LastChecked = status.LastChecked
	}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PrinterHandler) PausePrinter(c *gin.Context) {
	if err := h.printers.Pause(c.Param("name")); err != nil {
		printerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "printer paused"})
}

func (h *PrinterHandler) ResumePrinter(c *gin.Context) {
	if err := h.printers.Resume(c.Param("name")); err != nil {
		printerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "printer resumed"})
}

func isLookupError(err error) bool {
	return errors.Is(err, printer.ErrPrinterNotFound) || errors.Is(err, printer.ErrNoDefaultPrinter)
}

func printerError(c *gin.Context, err error) {
	if isLookupError(err) {
		abort(c, http.StatusNotFound, "not_found", err.Error())
		return
	}
	abort(c, http.StatusInternalServerError, "printer_error", err.Error())
}

func RegisterPrinterRoutes(r *gin.RouterGroup, h *PrinterHandler) {
	printers := r.Group("/printers")
	{
		printers.GET("", h.ListPrinters)
		printers.GET("/:name", h.GetPrinter)
		printers.GET("/:name/status", h.GetPrinterStatus)
		printers.POST("/:name/pause", h.PausePrinter)
		printers.POST("/:name/resume", h.ResumePrinter)
	}
}
