package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nwalia/rentdesk/internal/models"
	"go.uber.org/zap"
)

// ActivityRepository appends to the immutable activity log. There is no
// update or delete path; operator tooling reads it.
type ActivityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *sql.DB, logger *zap.Logger) *ActivityRepository {
	return &ActivityRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one activity entry. Metadata must already be redaction-safe:
// name, amount, reference only, never account or card detail.
func (r *ActivityRepository) Append(entry *models.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (intake_id, category, message, metadata)
		VALUES (?, ?, ?, ?)
	`

	result, err := r.db.Exec(query, entry.IntakeID, entry.Category, entry.Message, entry.Metadata)
	if err != nil {
		r.logger.Error("Failed to append activity entry", zap.String("category", entry.Category), zap.Error(err))
		return fmt.Errorf("failed to append activity entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// Log is the convenience form used by the pipeline: category, attached intake
// record, human-readable message, and a small metadata map serialized as JSON.
// Activity logging is observability, so failures are logged and swallowed.
func (r *ActivityRepository) Log(intakeID *int64, category, message string, metadata map[string]interface{}) {
	metadataJSON := "{}"
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			metadataJSON = string(b)
		}
	}

	entry := &models.ActivityEntry{
		IntakeID: intakeID,
		Category: category,
		Message:  message,
		Metadata: metadataJSON,
	}

	if err := r.Append(entry); err != nil {
		r.logger.Warn("Dropping activity entry", zap.String("category", category), zap.Error(err))
	}
}

// ListByIntake returns the activity trail for one intake record
func (r *ActivityRepository) ListByIntake(intakeID int64) ([]models.ActivityEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, intake_id, category, message, metadata, created_at
		FROM activity_log
		WHERE intake_id = ?
		ORDER BY id ASC
	`, intakeID)
	if err != nil {
		r.logger.Error("Failed to list activity", zap.Int64("intake_id", intakeID), zap.Error(err))
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var entry models.ActivityEntry
		var intakeRef sql.NullInt64
		if err := rows.Scan(&entry.ID, &intakeRef, &entry.Category, &entry.Message, &entry.Metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if intakeRef.Valid {
			entry.IntakeID = &intakeRef.Int64
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
