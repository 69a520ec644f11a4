package db

import (
	"fmt"

	"github.com/lootmore/lootmore-server/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the token and usage event tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Token{},
		&models.UsageEvent{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
