package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Xolisakesi/metatrrade-mcp/internal/journal"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
)

const (
	defaultJournalLimit = 20
	maxJournalLimit     = 500
	readHeaderTimeout   = 5 * time.Second
	journalQueryTimeout = 5 * time.Second
)

// JournalReader lists recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type handler struct {
	board   *Board
	journal JournalReader
	logger  observability.Logger
}

// NewHandler builds the gin router. A nil reader disables /journal.
func NewHandler(board *Board, reader JournalReader, logger observability.Logger) http.Handler {
	if logger == nil {
		logger = observability.Log()
	}
	h := &handler{board: board, journal: reader, logger: logger}

	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/healthz", h.health)
	router.GET("/status", h.status)
	if reader != nil {
		router.GET("/journal", h.recent)
	}
	return router
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("status request",
			observability.F("method", c.Request.Method),
			observability.F("path", c.Request.URL.Path),
			observability.F("status", c.Writer.Status()),
			observability.F("latency", time.Since(start).String()))
	}
}

func (h *handler) health(c *gin.Context) {
	snap := h.board.Load()
	code := http.StatusOK
	text := "ok"
	if !snap.Healthy {
		code = http.StatusServiceUnavailable
		text = "unavailable"
	}
	c.JSON(code, gin.H{"status": text, "state": snap.State})
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Load())
}

type entryView struct {
	ID        string         `json:"id"`
	Time      string         `json:"time"`
	Operation string         `json:"operation"`
	Outcome   string         `json:"outcome"`
	RequestID string         `json:"requestId,omitempty"`
	Ticket    uint64         `json:"ticket,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	OrderType string         `json:"orderType,omitempty"`
	Volume    string         `json:"volume"`
	Price     string         `json:"price"`
	Retcode   int            `json:"retcode,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func (h *handler) recent(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJournalLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), journalQueryTimeout)
	defer cancel()
	entries, err := h.journal.Recent(ctx, limit)
	if err != nil {
		h.logger.Warn("journal query failed", observability.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{
			ID:        e.ID.String(),
			Time:      protocol.FormatTime(e.Time),
			Operation: e.Operation,
			Outcome:   string(e.Outcome),
			RequestID: e.RequestID,
			Ticket:    e.Ticket,
			Symbol:    e.Symbol,
			OrderType: e.OrderType,
			Volume:    e.Volume.String(),
			Price:     e.Price.String(),
			Retcode:   e.Retcode,
			Message:   e.Message,
			Details:   e.Details,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
