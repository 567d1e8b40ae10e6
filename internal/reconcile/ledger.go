package reconcile

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nwalia/rentdesk/internal/models"
	"github.com/nwalia/rentdesk/internal/repository"
	"github.com/nwalia/rentdesk/pkg/database"
	"go.uber.org/zap"
)

// ErrLedgerConflict is returned when a concurrent reconciliation settled the
// invoice first. The losing call aborts its PAID transition; the ledger is
// untouched.
var ErrLedgerConflict = errors.New("invoice already settled by a concurrent reconciliation")

// Ledger owns the one atomic write in the pipeline: invoice to PAID, exactly
// one payment row, intake record to PAID. All three or none.
type Ledger struct {
	db          *database.DB
	intakeRepo  *repository.IntakeRepository
	invoiceRepo *repository.InvoiceRepository
	paymentRepo *repository.PaymentRepository
	logger      *zap.Logger
}

// NewLedger creates a new ledger
func NewLedger(
	db *database.DB,
	intakeRepo *repository.IntakeRepository,
	invoiceRepo *repository.InvoiceRepository,
	paymentRepo *repository.PaymentRepository,
	logger *zap.Logger,
) *Ledger {
	return &Ledger{
		db:          db,
		intakeRepo:  intakeRepo,
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		logger:      logger,
	}
}

// Settle performs the atomic PAID transition. The invoice status predicate
// is re-checked inside the transaction; if another delivery of the same
// payment won the race, Settle returns ErrLedgerConflict and nothing is
// written.
func (l *Ledger) Settle(intakeID int64, tenant *models.Tenancy, invoice *models.Invoice, method, receipt, note string) (*models.Payment, error) {
	now := time.Now()
	payment := &models.Payment{
		InvoiceID:   invoice.ID,
		UnitID:      invoice.UnitID,
		UserID:      tenant.UserID,
		AmountCents: invoice.AmountCents,
		Method:      method,
		Receipt:     receipt,
	}

	err := l.db.WithTransaction(func(tx *sql.Tx) error {
		settled, err := l.invoiceRepo.MarkPaid(tx, invoice.ID, method, now)
		if err != nil {
			return err
		}
		if !settled {
			return ErrLedgerConflict
		}

		if err := l.paymentRepo.Create(tx, payment); err != nil {
			return err
		}

		if err := l.intakeRepo.MarkPaid(tx, intakeID, tenant.UserID, invoice.ID, note, now); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLedgerConflict) {
			l.logger.Warn("Lost reconciliation race",
				zap.Int64("intake_id", intakeID),
				zap.Int64("invoice_id", invoice.ID))
			return nil, err
		}
		return nil, fmt.Errorf("ledger update failed: %w", err)
	}

	l.logger.Info("Invoice settled",
		zap.Int64("intake_id", intakeID),
		zap.Int64("invoice_id", invoice.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("amount_cents", invoice.AmountCents),
		zap.String("method", method))

	return payment, nil
}
