package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nwalia/rentdesk/internal/models"
	"go.uber.org/zap"
)

// IntakeRepository handles intake record database operations
type IntakeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIntakeRepository creates a new intake repository
func NewIntakeRepository(db *sql.DB, logger *zap.Logger) *IntakeRepository {
	return &IntakeRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a freshly received intake record
func (r *IntakeRepository) Create(record *models.IntakeRecord) error {
	headersJSON, err := json.Marshal(record.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO intake_records (
			received_at, subject, body, from_address, headers, source,
			is_verified, status, reconciliation_note
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		record.ReceivedAt,
		record.Subject,
		record.Body,
		record.From,
		string(headersJSON),
		record.Source,
		record.IsVerified,
		record.Status,
		record.ReconciliationNote,
	)
	if err != nil {
		r.logger.Error("Failed to create intake record", zap.Error(err))
		return fmt.Errorf("failed to create intake record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// UpdateExtraction stores the extractor output and the post-parse status
func (r *IntakeRepository) UpdateExtraction(record *models.IntakeRecord) error {
	query := `
		UPDATE intake_records
		SET sender_name = ?, amount_cents = ?, reference_number = ?,
			parse_confidence = ?, parse_error = ?, parsed_at = ?,
			status = ?, reconciliation_note = ?
		WHERE id = ?
	`

	_, err := r.db.Exec(query,
		record.SenderName,
		record.AmountCents,
		record.ReferenceNumber,
		record.ParseConfidence,
		record.ParseError,
		record.ParsedAt,
		record.Status,
		record.ReconciliationNote,
		record.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update extraction", zap.Int64("intake_id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to update extraction: %w", err)
	}
	return nil
}

// UpdateResolution stores the matched tenant/invoice and the current status
func (r *IntakeRepository) UpdateResolution(record *models.IntakeRecord) error {
	query := `
		UPDATE intake_records
		SET matched_tenant_id = ?, matched_invoice_id = ?,
			status = ?, reconciliation_note = ?
		WHERE id = ?
	`

	_, err := r.db.Exec(query,
		record.MatchedTenantID,
		record.MatchedInvoiceID,
		record.Status,
		record.ReconciliationNote,
		record.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update resolution", zap.Int64("intake_id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	return nil
}

// MarkPaid updates the intake record to PAID inside the ledger transaction
func (r *IntakeRepository) MarkPaid(tx *sql.Tx, intakeID, tenantUserID, invoiceID int64, note string, reconciledAt time.Time) error {
	query := `
		UPDATE intake_records
		SET status = ?, matched_tenant_id = ?, matched_invoice_id = ?,
			reconciliation_note = ?, reconciled_at = ?
		WHERE id = ?
	`

	_, err := tx.Exec(query,
		"PAID",
		tenantUserID,
		invoiceID,
		note,
		reconciledAt,
		intakeID,
	)
	if err != nil {
		r.logger.Error("Failed to mark intake paid", zap.Int64("intake_id", intakeID), zap.Error(err))
		return fmt.Errorf("failed to mark intake paid: %w", err)
	}
	return nil
}

// GetByID retrieves an intake record by id, or nil when absent
func (r *IntakeRepository) GetByID(id int64) (*models.IntakeRecord, error) {
	query := selectIntake + " WHERE id = ?"

	record, err := scanIntake(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get intake record", zap.Int64("intake_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get intake record: %w", err)
	}
	return record, nil
}

// FindPaidByReference looks for an earlier PAID record with the same payment
// network reference number, excluding the record being processed. This is the
// duplicate guard's query.
func (r *IntakeRepository) FindPaidByReference(reference string, excludeID int64) (*models.IntakeRecord, error) {
	query := selectIntake + `
		WHERE reference_number = ? AND status = 'PAID' AND id != ?
		ORDER BY reconciled_at ASC
		LIMIT 1
	`

	record, err := scanIntake(r.db.QueryRow(query, reference, excludeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to check duplicate reference", zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to check duplicate reference: %w", err)
	}
	return record, nil
}

const selectIntake = `
	SELECT id, received_at, subject, body, from_address, headers, source,
		is_verified, sender_name, amount_cents, reference_number,
		parse_confidence, parse_error, matched_tenant_id, matched_invoice_id,
		status, reconciliation_note, parsed_at, reconciled_at
	FROM intake_records
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntake(row rowScanner) (*models.IntakeRecord, error) {
	var record models.IntakeRecord
	var headersJSON string
	var senderName, referenceNumber, parseError sql.NullString
	var amountCents, matchedTenantID, matchedInvoiceID sql.NullInt64
	var parseConfidence sql.NullFloat64
	var parsedAt, reconciledAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&record.ReceivedAt,
		&record.Subject,
		&record.Body,
		&record.From,
		&headersJSON,
		&record.Source,
		&record.IsVerified,
		&senderName,
		&amountCents,
		&referenceNumber,
		&parseConfidence,
		&parseError,
		&matchedTenantID,
		&matchedInvoiceID,
		&record.Status,
		&record.ReconciliationNote,
		&parsedAt,
		&reconciledAt,
	)
	if err != nil {
		return nil, err
	}

	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &record.Headers); err != nil {
			record.Headers = map[string]string{}
		}
	}
	if senderName.Valid {
		record.SenderName = &senderName.String
	}
	if amountCents.Valid {
		record.AmountCents = &amountCents.Int64
	}
	if referenceNumber.Valid {
		record.ReferenceNumber = &referenceNumber.String
	}
	if parseConfidence.Valid {
		record.ParseConfidence = &parseConfidence.Float64
	}
	if parseError.Valid {
		record.ParseError = &parseError.String
	}
	if matchedTenantID.Valid {
		record.MatchedTenantID = &matchedTenantID.Int64
	}
	if matchedInvoiceID.Valid {
		record.MatchedInvoiceID = &matchedInvoiceID.Int64
	}
	if parsedAt.Valid {
		record.ParsedAt = &parsedAt.Time
	}
	if reconciledAt.Valid {
		record.ReconciledAt = &reconciledAt.Time
	}

	return &record, nil
}
