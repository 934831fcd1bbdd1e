package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avdeenko/simflow/internal/config"
	"github.com/avdeenko/simflow/internal/models"
	"github.com/avdeenko/simflow/internal/provider"
	"github.com/avdeenko/simflow/internal/repository"
	"github.com/avdeenko/simflow/internal/service"
	"github.com/avdeenko/simflow/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type HTTPHandler struct {
	orchestrator *service.Orchestrator
	client       *provider.Client
	ledger       *store.Ledger
	cache        *service.CacheService
	history      *repository.HistoryRepository
	cfg          *config.Config
	logger       *logrus.Logger
}

func NewHTTPHandler(
	orchestrator *service.Orchestrator,
	client *provider.Client,
	ledger *store.Ledger,
	cache *service.CacheService,
	history *repository.HistoryRepository,
	cfg *config.Config,
	logger *logrus.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orchestrator: orchestrator,
		client:       client,
		ledger:       ledger,
		cache:        cache,
		history:      history,
		cfg:          cfg,
		logger:       logger,
	}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Verify runs a full phone-verification cycle and blocks until it reaches a
// terminal state. An optional phone_number forces reuse of a ledger record.
func (h *HTTPHandler) Verify(c *gin.Context) {
	var req struct {
		Service     string `json:"service" binding:"required"`
		PhoneNumber string `json:"phone_number"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var predefined *models.PhoneRecord
	if req.PhoneNumber != "" {
		rec, ok := h.findRecord(req.PhoneNumber)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "phone number not found in ledger"})
			return
		}
		predefined = rec
	}

	report, err := h.orchestrator.Run(c.Request.Context(), req.Service, predefined)
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if report == nil {
			h.logger.Errorf("Verification run failed to start: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       report.RunID,
		"success":      report.Success,
		"reason":       report.Reason,
		"phone_number": report.PhoneNumber,
		"country":      report.CountryCode,
		"reused":       report.Reused,
		"attempts":     report.Attempts,
		"duration_ms":  report.Duration.Milliseconds(),
	})
}

func (h *HTTPHandler) ListNumbers(c *gin.Context) {
	records := h.ledger.Records()

	rows := make([]gin.H, 0, len(records))
	for _, rec := range records {
		rows = append(rows, gin.H{
			"number":        rec.Number,
			"country":       rec.CountryCode,
			"activation_id": rec.ActivationID,
			"services":      rec.Services,
			"first_used":    rec.FirstUsed.Unix(),
			"last_used":     rec.LastUsed.Unix(),
			"times_used":    rec.TimesUsed,
			"stale":         rec.IsStale(time.Now(), h.cfg.Ledger.Window()),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"numbers": rows,
		"total":   len(rows),
	})
}

func (h *HTTPHandler) LedgerStats(c *gin.Context) {
	stats := h.ledger.Stats()
	c.JSON(http.StatusOK, gin.H{
		"total_numbers":     stats.TotalNumbers,
		"active_numbers":    stats.ActiveNumbers,
		"total_reuses":      stats.TotalReuses,
		"estimated_savings": stats.EstimatedSavings,
	})
}

func (h *HTTPHandler) DeleteNumber(c *gin.Context) {
	number := c.Param("number")
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number is required"})
		return
	}

	removed, err := h.ledger.RemoveNumber(number)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "number not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()

	if balance, ok := h.cache.GetBalance(ctx); ok {
		c.JSON(http.StatusOK, gin.H{"balance": balance, "cached": true})
		return
	}

	balance, err := h.client.GetBalance(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.cache.SetBalance(ctx, balance, 30*time.Second)
	c.JSON(http.StatusOK, gin.H{"balance": balance, "cached": false})
}

func (h *HTTPHandler) GetPrices(c *gin.Context) {
	svc := c.Query("service")
	if svc == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service is required"})
		return
	}

	ctx := c.Request.Context()

	if rows, ok := h.cache.GetPrices(ctx, svc); ok {
		c.JSON(http.StatusOK, gin.H{"prices": rows, "cached": true})
		return
	}

	rows, err := h.client.ComparePrices(ctx, svc, h.cfg.Acquisition.Countries)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.cache.SetPrices(ctx, svc, rows, 5*time.Minute)
	c.JSON(http.StatusOK, gin.H{"prices": rows, "cached": false})
}

// GetCheapestCountry resolves the cheapest configured country with available
// inventory for a service. Advisory only; purchase order stays static.
func (h *HTTPHandler) GetCheapestCountry(c *gin.Context) {
	svc := c.Query("service")
	if svc == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service is required"})
		return
	}

	code, price, err := h.client.CheapestCountry(c.Request.Context(), svc, h.cfg.Acquisition.Countries)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if code == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no country with available inventory"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"country": code,
		"name":    h.cfg.Acquisition.CountryName(code),
		"price":   price,
	})
}

func (h *HTTPHandler) RecentVerifications(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history storage not configured"})
		return
	}

	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	reports, err := h.history.RecentReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   len(reports),
	})
}

func (h *HTTPHandler) GetStatistics(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history storage not configured"})
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	stats, err := h.history.GetStatistics(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// SMSWebhook accepts codes pushed by the provider so a running wait loop can
// pick them up without polling.
func (h *HTTPHandler) SMSWebhook(c *gin.Context) {
	var req struct {
		ActivationID string `json:"activation_id" binding:"required"`
		Code         string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.cache.StoreWebhookCode(c.Request.Context(), req.ActivationID, req.Code, 10*time.Minute); err != nil {
		h.logger.Errorf("Failed to store webhook code: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store code"})
		return
	}

	h.logger.WithField("activation_id", req.ActivationID).Info("Webhook code received")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) findRecord(number string) (*models.PhoneRecord, bool) {
	for _, rec := range h.ledger.Records() {
		if rec.Number == number {
			r := rec
			return &r, true
		}
	}
	return nil, false
}
