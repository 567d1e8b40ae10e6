package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nwalia/rentdesk/internal/extract"
	"github.com/nwalia/rentdesk/internal/models"
	"github.com/nwalia/rentdesk/internal/notify"
	"github.com/nwalia/rentdesk/internal/repository"
	"go.uber.org/zap"
)

// MinBodyLength is the floor below which a webhook body is treated as a
// provider verification ping rather than a payment notification. The
// extractor is never invoked for these.
const MinBodyLength = 50

// PaymentMethodETransfer is the method recorded for webhook reconciliations.
const PaymentMethodETransfer = "e_transfer"

// Outcome statuses reported to the webhook caller.
const (
	OutcomeVerificationLogged = "verification_logged"
	OutcomeManualReview       = "manual_review"
	OutcomeNoTenantMatch      = "no_tenant_match"
	OutcomeNoInvoiceMatch     = "no_invoice_match"
	OutcomeDuplicateRejected  = "duplicate_rejected"
	OutcomeReconciled         = "reconciled"
)

// ErrAlreadyPaid is returned by manual match when the intake record or the
// invoice has already been settled.
var ErrAlreadyPaid = errors.New("already paid")

// ErrNotFound is returned by operator actions targeting a missing entity.
var ErrNotFound = errors.New("not found")

// PaymentNotifier is the Communication Center boundary, faked in tests.
type PaymentNotifier interface {
	PaymentReceived(ctx context.Context, notice notify.Notice)
}

// Outcome is what one webhook delivery resolved to.
type Outcome struct {
	IntakeID        int64
	Status          string
	Note            string
	TenantUserID    *int64
	InvoiceID       *int64
	AmountCents     *int64
	PendingInvoices []models.Invoice
}

// Pipeline runs one intake record from receipt to a terminal or review
// status. Each webhook call is an independent unit of work; the only shared
// state is the database.
type Pipeline struct {
	intakeRepo   *repository.IntakeRepository
	invoiceRepo  *repository.InvoiceRepository
	tenancyRepo  *repository.TenancyRepository
	activityRepo *repository.ActivityRepository
	extractor    extract.Extractor
	ledger       *Ledger
	notifier     PaymentNotifier
	logger       *zap.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(
	intakeRepo *repository.IntakeRepository,
	invoiceRepo *repository.InvoiceRepository,
	tenancyRepo *repository.TenancyRepository,
	activityRepo *repository.ActivityRepository,
	extractor extract.Extractor,
	ledger *Ledger,
	notifier PaymentNotifier,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		intakeRepo:   intakeRepo,
		invoiceRepo:  invoiceRepo,
		tenancyRepo:  tenancyRepo,
		activityRepo: activityRepo,
		extractor:    extractor,
		ledger:       ledger,
		notifier:     notifier,
		logger:       logger,
	}
}

// Process persists the intake record and walks it through extraction,
// duplicate guard, tenant match, invoice match, and settlement. The record is
// never retried here: redelivery is the sender's job and the duplicate guard
// is what makes redelivery safe.
func (p *Pipeline) Process(ctx context.Context, record *models.IntakeRecord) (*Outcome, error) {
	record.Status = StatusReceived.String()
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = time.Now()
	}

	if err := p.intakeRepo.Create(record); err != nil {
		return nil, err
	}

	p.activityRepo.Log(&record.ID, models.ActivityReceived, "intake record created", map[string]interface{}{
		"source":   record.Source,
		"verified": record.IsVerified,
		"subject":  record.Subject,
	})

	// Short bodies are provider ownership pings, not payments. Skipping the
	// extractor keeps cost and noise down.
	if len(strings.TrimSpace(record.Body)) < MinBodyLength {
		note := fmt.Sprintf("body under %d characters; likely a provider verification ping, not a payment", MinBodyLength)
		if err := p.moveToReview(record, note); err != nil {
			return nil, err
		}
		return &Outcome{IntakeID: record.ID, Status: OutcomeVerificationLogged, Note: note}, nil
	}

	// Field extraction. The extractor call is bounded by its own timeout and
	// no transaction is open while it waits.
	result := p.extractor.Extract(ctx, record.Subject, record.Body)

	record.SenderName = result.SenderName
	record.AmountCents = result.AmountCents
	record.ReferenceNumber = result.ReferenceNumber
	confidence := result.Confidence
	record.ParseConfidence = &confidence
	if result.Err != "" {
		record.ParseError = &result.Err
	}

	if !result.Accepted() {
		note := extractionRejectionNote(result)
		status, err := Transition(Status(record.Status), EventReview)
		if err != nil {
			return nil, err
		}
		record.Status = status.String()
		record.ReconciliationNote = note
		if err := p.intakeRepo.UpdateExtraction(record); err != nil {
			return nil, err
		}
		p.activityRepo.Log(&record.ID, models.ActivityError, "extraction not accepted", map[string]interface{}{
			"reason":     note,
			"confidence": result.Confidence,
		})
		return &Outcome{IntakeID: record.ID, Status: OutcomeManualReview, Note: note}, nil
	}

	now := time.Now()
	status, err := Transition(Status(record.Status), EventParsed)
	if err != nil {
		return nil, err
	}
	record.Status = status.String()
	record.ParsedAt = &now
	record.ReconciliationNote = fmt.Sprintf("parsed sender %q, amount %d cents", *result.SenderName, *result.AmountCents)
	if err := p.intakeRepo.UpdateExtraction(record); err != nil {
		return nil, err
	}

	p.activityRepo.Log(&record.ID, models.ActivityParsed, "extraction accepted", map[string]interface{}{
		"sender":     *result.SenderName,
		"amount":     *result.AmountCents,
		"confidence": result.Confidence,
	})

	// Duplicate guard: a reference number that already reconciled means this
	// delivery is a replay.
	if record.ReferenceNumber != nil {
		original, err := p.intakeRepo.FindPaidByReference(*record.ReferenceNumber, record.ID)
		if err != nil {
			return nil, err
		}
		if original != nil {
			reconciledAt := "unknown time"
			if original.ReconciledAt != nil {
				reconciledAt = original.ReconciledAt.Format(time.RFC3339)
			}
			note := fmt.Sprintf("reference %s already reconciled by intake record %d at %s",
				*record.ReferenceNumber, original.ID, reconciledAt)
			if err := p.fail(record, note); err != nil {
				return nil, err
			}
			p.activityRepo.Log(&record.ID, models.ActivityDuplicate, "duplicate reference rejected", map[string]interface{}{
				"reference":          *record.ReferenceNumber,
				"original_intake_id": original.ID,
			})
			return &Outcome{IntakeID: record.ID, Status: OutcomeDuplicateRejected, Note: note}, nil
		}
	}

	// Tenant match against the live roster, refreshed every request.
	roster, err := p.tenancyRepo.ListActive()
	if err != nil {
		return nil, err
	}

	tenant := MatchTenant(*record.SenderName, roster)
	if tenant == nil {
		note := fmt.Sprintf("no unambiguous tenant match for sender %q", *record.SenderName)
		if err := p.moveToReview(record, note); err != nil {
			return nil, err
		}
		p.activityRepo.Log(&record.ID, models.ActivityNoMatch, "no tenant match", map[string]interface{}{
			"sender": *record.SenderName,
		})
		return &Outcome{IntakeID: record.ID, Status: OutcomeNoTenantMatch, Note: note}, nil
	}

	// Invoice match: exact amount, oldest due date first.
	invoices, err := p.invoiceRepo.ListForUnit(tenant.UnitID)
	if err != nil {
		return nil, err
	}

	invoice := SelectInvoice(invoices, *record.AmountCents)
	if invoice == nil {
		pending := PendingInvoices(invoices)
		note := fmt.Sprintf("tenant %s matched but no open invoice equals %d cents (%d pending)",
			tenant.Name, *record.AmountCents, len(pending))
		record.MatchedTenantID = &tenant.UserID
		if err := p.moveToReview(record, note); err != nil {
			return nil, err
		}
		p.activityRepo.Log(&record.ID, models.ActivityNoMatch, "no invoice match", map[string]interface{}{
			"tenant_user_id": tenant.UserID,
			"amount":         *record.AmountCents,
			"pending_count":  len(pending),
		})
		return &Outcome{
			IntakeID:        record.ID,
			Status:          OutcomeNoInvoiceMatch,
			Note:            note,
			TenantUserID:    &tenant.UserID,
			AmountCents:     record.AmountCents,
			PendingInvoices: pending,
		}, nil
	}

	status, err = Transition(Status(record.Status), EventMatched)
	if err != nil {
		return nil, err
	}
	record.Status = status.String()
	record.MatchedTenantID = &tenant.UserID
	record.MatchedInvoiceID = &invoice.ID
	record.ReconciliationNote = fmt.Sprintf("matched tenant %s and invoice %d (%s)", tenant.Name, invoice.ID, invoice.PeriodMonth)
	if err := p.intakeRepo.UpdateResolution(record); err != nil {
		return nil, err
	}

	p.activityRepo.Log(&record.ID, models.ActivityMatched, "tenant and invoice matched", map[string]interface{}{
		"tenant_user_id": tenant.UserID,
		"invoice_id":     invoice.ID,
		"amount":         invoice.AmountCents,
	})

	// The one atomic write: invoice PAID + payment row + intake PAID.
	receipt := ""
	if record.ReferenceNumber != nil {
		receipt = fmt.Sprintf("e-transfer ref %s", *record.ReferenceNumber)
	}
	note := fmt.Sprintf("reconciled against invoice %d for period %s", invoice.ID, invoice.PeriodMonth)

	payment, err := p.ledger.Settle(record.ID, tenant, invoice, PaymentMethodETransfer, receipt, note)
	if err != nil {
		if errors.Is(err, ErrLedgerConflict) {
			conflictNote := fmt.Sprintf("invoice %d was settled by a concurrent reconciliation; no ledger write performed", invoice.ID)
			if err := p.fail(record, conflictNote); err != nil {
				return nil, err
			}
			p.activityRepo.Log(&record.ID, models.ActivityDuplicate, "lost reconciliation race", map[string]interface{}{
				"invoice_id": invoice.ID,
			})
			return &Outcome{IntakeID: record.ID, Status: OutcomeDuplicateRejected, Note: conflictNote}, nil
		}
		return nil, err
	}

	record.Status = StatusPaid.String()
	p.activityRepo.Log(&record.ID, models.ActivityReconciled, "payment reconciled", map[string]interface{}{
		"invoice_id": invoice.ID,
		"payment_id": payment.ID,
		"amount":     payment.AmountCents,
	})

	p.notifyPaymentReceived(tenant, invoice, PaymentMethodETransfer)

	return &Outcome{
		IntakeID:     record.ID,
		Status:       OutcomeReconciled,
		Note:         note,
		TenantUserID: &tenant.UserID,
		InvoiceID:    &invoice.ID,
		AmountCents:  &invoice.AmountCents,
	}, nil
}

// ManualMatch is the operator path out of MANUAL_REVIEW: same ledger
// primitive as the automatic path, with explicit tenant and invoice.
func (p *Pipeline) ManualMatch(ctx context.Context, intakeID, tenantUserID, invoiceID int64) (*Outcome, error) {
	record, err := p.intakeRepo.GetByID(intakeID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: intake record %d", ErrNotFound, intakeID)
	}
	if Status(record.Status) == StatusPaid {
		return nil, fmt.Errorf("%w: intake record %d", ErrAlreadyPaid, intakeID)
	}
	if _, err := Transition(Status(record.Status), EventManualMatch); err != nil {
		return nil, err
	}

	tenant, err := p.tenancyRepo.GetByUserID(tenantUserID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("%w: active tenancy for user %d", ErrNotFound, tenantUserID)
	}

	invoice, err := p.invoiceRepo.GetByID(invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, fmt.Errorf("%w: invoice %d", ErrNotFound, invoiceID)
	}
	if invoice.Status == models.InvoiceStatusPaid {
		return nil, fmt.Errorf("%w: invoice %d", ErrAlreadyPaid, invoiceID)
	}

	receipt := ""
	if record.ReferenceNumber != nil {
		receipt = fmt.Sprintf("e-transfer ref %s", *record.ReferenceNumber)
	}
	note := fmt.Sprintf("manually matched to invoice %d for period %s", invoice.ID, invoice.PeriodMonth)

	payment, err := p.ledger.Settle(record.ID, tenant, invoice, PaymentMethodETransfer, receipt, note)
	if err != nil {
		return nil, err
	}

	p.activityRepo.Log(&record.ID, models.ActivityReconciled, "payment manually reconciled", map[string]interface{}{
		"invoice_id": invoice.ID,
		"payment_id": payment.ID,
		"amount":     payment.AmountCents,
	})

	p.notifyPaymentReceived(tenant, invoice, PaymentMethodETransfer)

	return &Outcome{
		IntakeID:     record.ID,
		Status:       OutcomeReconciled,
		Note:         note,
		TenantUserID: &tenant.UserID,
		InvoiceID:    &invoice.ID,
		AmountCents:  &invoice.AmountCents,
	}, nil
}

// Dismiss discards a record an operator judged to be spam or an irrelevant
// forward.
func (p *Pipeline) Dismiss(intakeID int64, reason string) error {
	record, err := p.intakeRepo.GetByID(intakeID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: intake record %d", ErrNotFound, intakeID)
	}

	status, err := Transition(Status(record.Status), EventDismiss)
	if err != nil {
		return err
	}

	record.Status = status.String()
	record.ReconciliationNote = fmt.Sprintf("dismissed by operator: %s", reason)
	if err := p.intakeRepo.UpdateResolution(record); err != nil {
		return err
	}

	p.activityRepo.Log(&record.ID, models.ActivityDismissed, "intake dismissed", map[string]interface{}{
		"reason": reason,
	})
	return nil
}

// moveToReview routes a record to MANUAL_REVIEW with an explanatory note.
func (p *Pipeline) moveToReview(record *models.IntakeRecord, note string) error {
	status, err := Transition(Status(record.Status), EventReview)
	if err != nil {
		return err
	}
	record.Status = status.String()
	record.ReconciliationNote = note
	return p.intakeRepo.UpdateResolution(record)
}

// fail routes a record to FAILED with an explanatory note.
func (p *Pipeline) fail(record *models.IntakeRecord, note string) error {
	status, err := Transition(Status(record.Status), EventFail)
	if err != nil {
		return err
	}
	record.Status = status.String()
	record.ReconciliationNote = note
	return p.intakeRepo.UpdateResolution(record)
}

// notifyPaymentReceived hands off to the Communication Center without
// blocking the response; delivery failure never affects the reconciliation.
func (p *Pipeline) notifyPaymentReceived(tenant *models.Tenancy, invoice *models.Invoice, method string) {
	if p.notifier == nil {
		return
	}

	notice := notify.Notice{
		TenantName:    tenant.Name,
		TenantEmail:   tenant.Email,
		BuildingName:  tenant.BuildingName,
		UnitLabel:     tenant.UnitLabel,
		PeriodMonth:   invoice.PeriodMonth,
		AmountCents:   invoice.AmountCents,
		PaymentMethod: method,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic in notification dispatch", zap.Any("panic", r))
			}
		}()
		p.notifier.PaymentReceived(context.Background(), notice)
	}()
}

// extractionRejectionNote names exactly what blocked acceptance.
func extractionRejectionNote(result *extract.Result) string {
	if result.Err != "" {
		return fmt.Sprintf("extraction failed: %s", result.Err)
	}
	if missing := result.MissingFields(); len(missing) > 0 {
		return fmt.Sprintf("extraction missing %s", strings.Join(missing, " and "))
	}
	return fmt.Sprintf("extraction confidence %.2f below %.2f threshold", result.Confidence, extract.MinConfidence)
}
