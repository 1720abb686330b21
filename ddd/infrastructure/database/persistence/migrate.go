package persistence

import (
	"gorm.io/gorm"

	"outreach-service/ddd/infrastructure/database/po"
)

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(po.Models()...)
}
