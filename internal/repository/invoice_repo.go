package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nwalia/rentdesk/internal/models"
	"go.uber.org/zap"
)

// InvoiceRepository handles invoice database operations
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

const selectInvoice = `
	SELECT id, unit_id, tenancy_id, status, amount_cents, period_month,
		due_date, payment_method, paid_at, created_at
	FROM invoices
`

// GetByID retrieves an invoice by id, or nil when absent
func (r *InvoiceRepository) GetByID(id int64) (*models.Invoice, error) {
	invoice, err := scanInvoice(r.db.QueryRow(selectInvoice+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.Int64("invoice_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

// ListForUnit returns all invoices for a unit, oldest due date first
func (r *InvoiceRepository) ListForUnit(unitID int64) ([]models.Invoice, error) {
	rows, err := r.db.Query(selectInvoice+" WHERE unit_id = ? ORDER BY due_date ASC", unitID)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Int64("unit_id", unitID), zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *invoice)
	}

	return invoices, rows.Err()
}

// MarkPaid flips an invoice to PAID inside the ledger transaction. The status
// predicate makes the losing side of a concurrent reconciliation update zero
// rows, which the ledger treats as a conflict.
func (r *InvoiceRepository) MarkPaid(tx *sql.Tx, invoiceID int64, method string, paidAt time.Time) (bool, error) {
	result, err := tx.Exec(`
		UPDATE invoices
		SET status = 'PAID', payment_method = ?, paid_at = ?
		WHERE id = ? AND status IN ('OPEN', 'OVERDUE')
	`, method, paidAt, invoiceID)
	if err != nil {
		r.logger.Error("Failed to mark invoice paid", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return false, fmt.Errorf("failed to mark invoice paid: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var invoice models.Invoice
	var paymentMethod sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&invoice.ID,
		&invoice.UnitID,
		&invoice.TenancyID,
		&invoice.Status,
		&invoice.AmountCents,
		&invoice.PeriodMonth,
		&invoice.DueDate,
		&paymentMethod,
		&paidAt,
		&invoice.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paymentMethod.Valid {
		invoice.PaymentMethod = paymentMethod.String
	}
	if paidAt.Valid {
		invoice.PaidAt = &paidAt.Time
	}

	return &invoice, nil
}
