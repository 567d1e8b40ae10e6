// Package notify delivers payment-received notices to the Communication
// Center, the platform's mass-notification dispatcher. Delivery is a
// best-effort side channel: failures are logged, never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notice is the payload the Communication Center fans out after a
// reconciliation.
type Notice struct {
	TenantName    string `json:"tenant_name"`
	TenantEmail   string `json:"tenant_email"`
	BuildingName  string `json:"building_name"`
	UnitLabel     string `json:"unit_label"`
	PeriodMonth   string `json:"period_month"`
	AmountCents   int64  `json:"amount_cents"`
	PaymentMethod string `json:"payment_method"`
}

// Config holds notifier configuration
type Config struct {
	Endpoints   []string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// Notifier posts notices to each configured recipient endpoint with a bounded
// retry per recipient.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a new notifier
func New(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// PaymentReceived fans the notice out to every configured endpoint. Each
// recipient gets MaxAttempts tries with exponential backoff (1s, 2s, 4s by
// default). Errors are logged per recipient and swallowed.
func (n *Notifier) PaymentReceived(ctx context.Context, notice Notice) {
	if len(n.cfg.Endpoints) == 0 {
		n.logger.Debug("No notification endpoints configured")
		return
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		n.logger.Error("Failed to marshal notice", zap.Error(err))
		return
	}

	for _, endpoint := range n.cfg.Endpoints {
		n.deliver(ctx, endpoint, payload)
	}
}

func (n *Notifier) deliver(ctx context.Context, endpoint string, payload []byte) {
	start := time.Now()
	delay := n.cfg.BaseDelay

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			n.logger.Error("Failed to build notification request",
				zap.String("endpoint", endpoint), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			n.logger.Info("Notification delivered",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)))
			return
		}
		if resp != nil {
			resp.Body.Close()
		}

		n.logger.Warn("Notification attempt failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < n.cfg.MaxAttempts {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				n.logger.Warn("Notification cancelled", zap.String("endpoint", endpoint))
				return
			}
		}
	}

	n.logger.Error("Notification dropped after retries",
		zap.String("endpoint", endpoint),
		zap.Int("attempts", n.cfg.MaxAttempts))
}
