package repository

import (
	"database/sql"
	"fmt"

	"github.com/nwalia/rentdesk/internal/models"
	"go.uber.org/zap"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sql.DB, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the payment row inside the ledger transaction. Payments are
// only ever written through this path, one per reconciled invoice.
func (r *PaymentRepository) Create(tx *sql.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (
			invoice_id, unit_id, user_id, amount_cents, method, receipt
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := tx.Exec(query,
		payment.InvoiceID,
		payment.UnitID,
		payment.UserID,
		payment.AmountCents,
		payment.Method,
		payment.Receipt,
	)
	if err != nil {
		r.logger.Error("Failed to create payment", zap.Int64("invoice_id", payment.InvoiceID), zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	payment.ID = id
	return nil
}

// CountForInvoice returns how many payments reference an invoice
func (r *PaymentRepository) CountForInvoice(invoiceID int64) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM payments WHERE invoice_id = ?", invoiceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}
