package sqlite

import (
	"database/sql"
	"strings"

	"garia/internal/models"

	"github.com/pkg/errors"
)

// ResultRepository implements repository.ResultRepository for SQLite.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new SQLite result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save stores a result and its detections in a single transaction.
func (r *ResultRepository) Save(rec *models.ResultRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO results (timestamp, source_name, source_type, image_width, image_height,
			processing_time, model_path, device, detection_count, error, snapshot_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp.UTC(), rec.SourceName, rec.SourceType, rec.ImageWidth, rec.ImageHeight,
		rec.ProcessingTime, rec.ModelPath, rec.Device, len(rec.Detections), rec.Error, rec.SnapshotPath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert result")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read result id")
	}

	stmt, err := tx.Prepare(`
		INSERT INTO detections (result_id, position, class_id, class_name, confidence, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for i, d := range rec.Detections {
		if _, err := stmt.Exec(id, i, d.ClassID, d.ClassName, d.Confidence, d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2); err != nil {
			return 0, errors.Wrap(err, "failed to insert detection")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit result")
	}
	return id, nil
}

// SetSnapshot records where the annotated image of a result was written.
func (r *ResultRepository) SetSnapshot(id int64, path string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`UPDATE results SET snapshot_path = ? WHERE id = ?`, path, id); err != nil {
		return errors.Wrap(err, "failed to update snapshot path")
	}
	return nil
}

const resultColumns = `r.id, r.timestamp, r.source_name, r.source_type, r.image_width, r.image_height,
	r.processing_time, r.model_path, r.device, r.detection_count, r.error, r.snapshot_path`

func scanResult(row interface{ Scan(...any) error }, rec *models.ResultRecord) error {
	return row.Scan(&rec.ID, &rec.Timestamp, &rec.SourceName, &rec.SourceType, &rec.ImageWidth, &rec.ImageHeight,
		&rec.ProcessingTime, &rec.ModelPath, &rec.Device, &rec.DetectionCount, &rec.Error, &rec.SnapshotPath)
}

// GetByID retrieves a result with its detections. It returns nil when no result has id.
func (r *ResultRepository) GetByID(id int64) (*models.ResultRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var rec models.ResultRecord
	err := scanResult(r.db.Conn().QueryRow(`SELECT `+resultColumns+` FROM results r WHERE r.id = ?`, id), &rec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get result")
	}

	rows, err := r.db.Conn().Query(`
		SELECT class_id, class_name, confidence, x1, y1, x2, y2
		FROM detections WHERE result_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	rec.Detections = []models.Detection{}
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.ClassID, &d.ClassName, &d.Confidence, &d.BBox.X1, &d.BBox.Y1, &d.BBox.X2, &d.BBox.Y2); err != nil {
			return nil, errors.Wrap(err, "failed to scan detection")
		}
		rec.Detections = append(rec.Detections, d)
	}
	return &rec, rows.Err()
}

// where builds the WHERE clause shared by List and Count.
func where(filter *models.ResultFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if filter == nil {
		return clauses[0], args
	}

	if filter.ClassName != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM detections d WHERE d.result_id = r.id AND d.class_name = ?)")
		args = append(args, filter.ClassName)
	}
	if filter.SourceType != "" {
		clauses = append(clauses, "r.source_type = ?")
		args = append(args, filter.SourceType)
	}
	if !filter.After.IsZero() {
		clauses = append(clauses, "r.timestamp >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		clauses = append(clauses, "r.timestamp <= ?")
		args = append(args, filter.Before.UTC())
	}
	if filter.OnlyFailed {
		clauses = append(clauses, "r.error != ''")
	}
	return strings.Join(clauses, " AND "), args
}

// List retrieves results, newest first, without their detections.
func (r *ResultRepository) List(filter *models.ResultFilter) ([]models.ResultRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	cond, args := where(filter)
	query := `SELECT ` + resultColumns + ` FROM results r WHERE ` + cond + ` ORDER BY r.timestamp DESC, r.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query results")
	}
	defer rows.Close()

	records := []models.ResultRecord{}
	for rows.Next() {
		var rec models.ResultRecord
		if err := scanResult(rows, &rec); err != nil {
			return nil, errors.Wrap(err, "failed to scan result")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of results matching the filter.
func (r *ResultRepository) Count(filter *models.ResultFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	cond, args := where(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM results r WHERE `+cond, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count results")
	}
	return count, nil
}

// Stats returns aggregate statistics about stored results.
func (r *ResultRepository) Stats() (*models.ResultStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &models.ResultStats{ClassCounts: make(map[string]int)}

	if err := r.db.Conn().QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(detection_count), 0), COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0)
		FROM results
	`).Scan(&stats.TotalResults, &stats.TotalDetections, &stats.FailedResults); err != nil {
		return nil, errors.Wrap(err, "failed to aggregate results")
	}

	rows, err := r.db.Conn().Query(`SELECT class_name, COUNT(*) FROM detections GROUP BY class_name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count classes")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan class count")
		}
		stats.ClassCounts[name] = count
	}
	return stats, rows.Err()
}

// Delete removes a result and its detections.
func (r *ResultRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE result_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM results WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete result")
	}
	return nil
}

// DeleteAll removes all results and their detections.
func (r *ResultRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM results`); err != nil {
		return errors.Wrap(err, "failed to delete results")
	}
	return nil
}
