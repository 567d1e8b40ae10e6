package repository

import (
	"database/sql"
	"fmt"

	"github.com/nwalia/rentdesk/internal/models"
	"go.uber.org/zap"
)

// TenancyRepository reads the active tenant roster. The pipeline never writes
// tenancies; the admin application owns them.
type TenancyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenancyRepository creates a new tenancy repository
func NewTenancyRepository(db *sql.DB, logger *zap.Logger) *TenancyRepository {
	return &TenancyRepository{
		db:     db,
		logger: logger,
	}
}

const selectTenancy = `
	SELECT user_id, name, email, unit_id, unit_label, building_name
	FROM tenancies
`

// ListActive returns the current roster. Called fresh per request so a
// just-added tenant is matchable immediately.
func (r *TenancyRepository) ListActive() ([]models.Tenancy, error) {
	rows, err := r.db.Query(selectTenancy + " WHERE active = 1")
	if err != nil {
		r.logger.Error("Failed to list active tenancies", zap.Error(err))
		return nil, fmt.Errorf("failed to list active tenancies: %w", err)
	}
	defer rows.Close()

	var roster []models.Tenancy
	for rows.Next() {
		var t models.Tenancy
		if err := rows.Scan(&t.UserID, &t.Name, &t.Email, &t.UnitID, &t.UnitLabel, &t.BuildingName); err != nil {
			return nil, fmt.Errorf("failed to scan tenancy: %w", err)
		}
		roster = append(roster, t)
	}

	return roster, rows.Err()
}

// GetByUserID retrieves one active tenancy by tenant user id, or nil
func (r *TenancyRepository) GetByUserID(userID int64) (*models.Tenancy, error) {
	var t models.Tenancy
	err := r.db.QueryRow(selectTenancy+" WHERE active = 1 AND user_id = ?", userID).
		Scan(&t.UserID, &t.Name, &t.Email, &t.UnitID, &t.UnitLabel, &t.BuildingName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get tenancy", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get tenancy: %w", err)
	}
	return &t, nil
}
