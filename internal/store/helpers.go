package store

import (
	"database/sql"

	"github.com/beatbalance/hrvlink/internal/models"
)

// requireRow converts a zero-row update into models.ErrSessionNotFound.
func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// scanSessionRows scans a SessionRecord from sql.Rows.
func scanSessionRows(rows *sql.Rows) (*SessionRecord, error) {
	var rec SessionRecord
	var calibrationAt sql.NullTime
	var summaryJSON sql.NullString
	err := rows.Scan(
		&rec.UserID, &rec.ID, &rec.StartedAt, &rec.Type, &rec.Status,
		&rec.IsCalibration, &calibrationAt, &summaryJSON, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if calibrationAt.Valid {
		rec.CalibrationAt = &calibrationAt.Time
	}
	rec.SummaryJSON = summaryJSON.String
	return &rec, nil
}

// scanSessionRow scans a SessionRecord from a single sql.Row.
func scanSessionRow(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	var calibrationAt sql.NullTime
	var summaryJSON sql.NullString
	err := row.Scan(
		&rec.UserID, &rec.ID, &rec.StartedAt, &rec.Type, &rec.Status,
		&rec.IsCalibration, &calibrationAt, &summaryJSON, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if calibrationAt.Valid {
		rec.CalibrationAt = &calibrationAt.Time
	}
	rec.SummaryJSON = summaryJSON.String
	return &rec, nil
}
