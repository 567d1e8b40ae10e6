package webhook

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nwalia/rentdesk/internal/models"
	"github.com/nwalia/rentdesk/internal/reconcile"
	"github.com/nwalia/rentdesk/internal/repository"
	"go.uber.org/zap"
)

// Handler serves the payment intake webhook and its companion endpoints
type Handler struct {
	pipeline     *reconcile.Pipeline
	intakeRepo   *repository.IntakeRepository
	activityRepo *repository.ActivityRepository
	secret       string
	extractorOn  bool
	logger       *zap.Logger
}

// NewHandler creates a new webhook handler. An empty secret disables
// verification: every call is accepted, flagged unverified.
func NewHandler(
	pipeline *reconcile.Pipeline,
	intakeRepo *repository.IntakeRepository,
	activityRepo *repository.ActivityRepository,
	secret string,
	extractorOn bool,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		pipeline:     pipeline,
		intakeRepo:   intakeRepo,
		activityRepo: activityRepo,
		secret:       secret,
		extractorOn:  extractorOn,
		logger:       logger,
	}
}

// HandleIntake processes one inbound payment notification webhook
func (h *Handler) HandleIntake(c *gin.Context) {
	verified, ok := h.authenticate(c)
	if !ok {
		// Rejected before any persistence, but the rejection itself stays
		// visible to operators: provider ownership pings land here too.
		h.logger.Warn("Webhook rejected: bad secret", zap.String("ip", c.ClientIP()))
		h.activityRepo.Log(nil, models.ActivityAuthReject, "webhook call rejected: secret mismatch", map[string]interface{}{
			"source": c.ClientIP(),
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Form payloads must be parsed before the body is drained; everything
	// else is read raw.
	contentType := c.GetHeader("Content-Type")
	form := h.formValues(c, contentType)

	var raw []byte
	if form == nil {
		var err error
		raw, err = io.ReadAll(c.Request.Body)
		if err != nil {
			h.logger.Error("Failed to read request body", zap.Error(err))
			raw = nil
		}
	}

	msg := Normalize(contentType, raw, form)

	record := &models.IntakeRecord{
		ReceivedAt: time.Now(),
		Subject:    msg.Subject,
		Body:       msg.Body,
		From:       msg.From,
		Headers:    msg.Headers,
		Source:     c.ClientIP(),
		IsVerified: verified,
	}

	outcome, err := h.pipeline.Process(c.Request.Context(), record)
	if err != nil {
		h.logger.Error("Intake processing failed",
			zap.Int64("intake_id", record.ID),
			zap.Error(err))
		var intakeRef *int64
		if record.ID != 0 {
			intakeRef = &record.ID
		}
		h.activityRepo.Log(intakeRef, models.ActivityError, "intake processing failed", map[string]interface{}{
			"status": "FAILED",
			"error":  err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"received": false, "error": "processing error"})
		return
	}

	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// Health reports whether the extraction dependency and webhook secret are
// configured.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                    "healthy",
		"service":                   "rentdesk-payment-intake",
		"extractor_configured":      h.extractorOn,
		"webhook_secret_configured": h.secret != "",
		"time":                      time.Now().Format(time.RFC3339),
	})
}

// ManualMatchRequest is the admin manual-match payload
type ManualMatchRequest struct {
	TenantUserID int64 `json:"tenant_user_id" binding:"required"`
	InvoiceID    int64 `json:"invoice_id" binding:"required"`
}

// HandleManualMatch resolves a reviewed intake record against an explicit
// tenant and invoice, through the same ledger primitive as the webhook path.
func (h *Handler) HandleManualMatch(c *gin.Context) {
	intakeID, ok := h.intakeIDParam(c)
	if !ok {
		return
	}

	var req ManualMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_user_id and invoice_id are required"})
		return
	}

	outcome, err := h.pipeline.ManualMatch(c.Request.Context(), intakeID, req.TenantUserID, req.InvoiceID)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrAlreadyPaid),
			errors.Is(err, reconcile.ErrInvalidTransition),
			errors.Is(err, reconcile.ErrLedgerConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Manual match failed", zap.Int64("intake_id", intakeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing error"})
		}
		return
	}

	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// DismissRequest is the admin dismiss payload
type DismissRequest struct {
	Reason string `json:"reason"`
}

// HandleDismiss discards an intake record (spam or irrelevant forward)
func (h *Handler) HandleDismiss(c *gin.Context) {
	intakeID, ok := h.intakeIDParam(c)
	if !ok {
		return
	}

	var req DismissRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "no reason given"
	}

	if err := h.pipeline.Dismiss(intakeID, req.Reason); err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Dismiss failed", zap.Int64("intake_id", intakeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"dismissed": true, "intake_id": intakeID})
}

// HandleGetIntake returns one intake record with its activity trail, the
// minimal read surface operators need to act on a review.
func (h *Handler) HandleGetIntake(c *gin.Context) {
	intakeID, ok := h.intakeIDParam(c)
	if !ok {
		return
	}

	record, err := h.intakeRepo.GetByID(intakeID)
	if err != nil {
		h.logger.Error("Failed to load intake record", zap.Int64("intake_id", intakeID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing error"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "intake record not found"})
		return
	}

	activity, err := h.activityRepo.ListByIntake(intakeID)
	if err != nil {
		h.logger.Error("Failed to load activity", zap.Int64("intake_id", intakeID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record":   record,
		"activity": activity,
	})
}

// authenticate compares the caller-supplied secret against the configured
// one. Constant-time compare; either the x-webhook-secret header or a bearer
// token is accepted.
func (h *Handler) authenticate(c *gin.Context) (verified, ok bool) {
	if h.secret == "" {
		return false, true
	}

	supplied := c.GetHeader("x-webhook-secret")
	if supplied == "" {
		auth := c.GetHeader("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			supplied = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.secret)) == 1 {
		return true, true
	}
	return false, false
}

func (h *Handler) formValues(c *gin.Context, contentType string) url.Values {
	if !strings.Contains(contentType, "multipart/form-data") &&
		!strings.Contains(contentType, "application/x-www-form-urlencoded") {
		return nil
	}

	if err := c.Request.ParseMultipartForm(1 << 20); err != nil {
		if err := c.Request.ParseForm(); err != nil {
			return nil
		}
	}
	return c.Request.PostForm
}

func (h *Handler) intakeIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid intake record id"})
		return 0, false
	}
	return id, true
}

// outcomeResponse shapes the pipeline outcome for the JSON response
func outcomeResponse(outcome *reconcile.Outcome) gin.H {
	resp := gin.H{
		"received":  true,
		"status":    outcome.Status,
		"intake_id": outcome.IntakeID,
		"note":      outcome.Note,
	}

	if outcome.TenantUserID != nil {
		resp["tenant_user_id"] = *outcome.TenantUserID
	}
	if outcome.InvoiceID != nil {
		resp["invoice_id"] = *outcome.InvoiceID
	}
	if outcome.AmountCents != nil {
		resp["amount_cents"] = *outcome.AmountCents
	}
	if len(outcome.PendingInvoices) > 0 {
		pending := make([]gin.H, 0, len(outcome.PendingInvoices))
		for _, inv := range outcome.PendingInvoices {
			pending = append(pending, gin.H{
				"invoice_id":   inv.ID,
				"period_month": inv.PeriodMonth,
				"amount_cents": inv.AmountCents,
				"due_date":     inv.DueDate.Format("2006-01-02"),
				"status":       inv.Status,
			})
		}
		resp["pending_invoices"] = pending
	}

	return resp
}
