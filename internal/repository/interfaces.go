package repository

import (
	"garia/internal/models"
)

// ResultRepository defines the interface for detection history operations.
type ResultRepository interface {
	// Create operations
	Save(rec *models.ResultRecord) (int64, error)

	// Update operations
	SetSnapshot(id int64, path string) error

	// Read operations
	GetByID(id int64) (*models.ResultRecord, error)
	List(filter *models.ResultFilter) ([]models.ResultRecord, error)
	Count(filter *models.ResultFilter) (int, error)
	Stats() (*models.ResultStats, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}
