package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/metrics"
	"github.com/orrn/printq/internal/store/sqlite"
)

const dateLayout = "2006-01-02"

type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// CounterReader serves the per-printer daily counters.
type CounterReader interface {
	GetCounters(ctx context.Context, printer string, from, to time.Time) ([]*sqlite.PrintCounter, error)
}

type CountersQuery struct {
	Printer string `form:"printer"`
	From    string `form:"from"`
	To      string `form:"to"`
}

type DailyCountersResponse struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Succeeded int64          `json:"succeeded"`
	Failed    int64          `json:"failed"`
	ByDate    []CounterEntry `json:"by_date"`
}

type CounterEntry struct {
	Date      string `json:"date"`
	Printer   string `json:"printer"`
	Succeeded int64  `json:"succeeded"`
	Failed    int64  `json:"failed"`
}

type MetricsHandler struct {
	source   MetricsSource
	counters CounterReader
	now      func() time.Time
}

// NewMetricsHandler builds the handler. counters may be nil when the storage
// backend keeps no daily counters.
func NewMetricsHandler(source MetricsSource, counters CounterReader) *MetricsHandler {
	return &MetricsHandler{source: source, counters: counters, now: time.Now}
}

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Snapshot())
}

// GetDailyCounters defaults to the last seven days.
func (h *MetricsHandler) GetDailyCounters(c *gin.Context) {
	if h.counters == nil {
		abort(c, http.StatusNotImplemented, "not_supported", "Daily counters are not available for this storage backend")
		return
	}

	var query CountersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		abort(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	to := h.now()
	from := to.AddDate(0, 0, -6)
	var err error
	if query.From != "" {
		if from, err = time.Parse(dateLayout, query.From); err != nil {
			abort(c, http.StatusBadRequest, "validation_error", "from must be YYYY-MM-DD")
			return
		}
	}
	if query.To != "" {
		if to, err = time.Parse(dateLayout, query.To); err != nil {
			abort(c, http.StatusBadRequest, "validation_error", "to must be YYYY-MM-DD")
			return
		}
	}
	if to.Before(from) {
		abort(c, http.StatusBadRequest, "validation_error", "to must not be before from")
		return
	}

	counters, err := h.counters.GetCounters(c.Request.Context(), query.Printer, from, to)
	if err != nil {
		abort(c, http.StatusInternalServerError, "database_error", "Failed to retrieve counters")
		return
	}

	resp := DailyCountersResponse{
		From:   from.Format(dateLayout),
		To:     to.Format(dateLayout),
		ByDate: make([]CounterEntry, 0, len(counters)),
	}
	for _, counter := range counters {
		resp.Succeeded += counter.Succeeded
		resp.Failed += counter.Failed
		resp.ByDate = append(resp.ByDate, CounterEntry{
			Date:      counter.Date.Format(dateLayout),
			Printer:   counter.Printer,
			Succeeded: counter.Succeeded,
			Failed:    counter.Failed,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func RegisterMetricsRoutes(r *gin.RouterGroup, h *MetricsHandler) {
	r.GET("/metrics", h.GetMetrics)
	r.GET("/metrics/daily", h.GetDailyCounters)
}
