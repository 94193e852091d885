package database

import (
	"errors"
	"time"

	"github.com/backlogged/backlogged/internal/backlog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSyncStatusNames     = "2024-03-01_sync_backlog_status_names"
	migrationOrphanCustomDetails = "2024-03-15_remove_orphan_custom_details"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSyncStatusNames, apply: syncStatusNames},
		{name: migrationOrphanCustomDetails, apply: removeOrphanCustomDetails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// syncStatusNames rewrites status_name from status_id, which is authoritative.
func syncStatusNames(db *gorm.DB) error {
	for _, nowPlaying := range []bool{false, true} {
		statusID, statusName := backlog.StatusFor(nowPlaying)
		err := db.Model(&backlog.Entry{}).
			Where("status_id = ? AND status_name <> ?", statusID, statusName).
			Update("status_name", statusName).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func removeOrphanCustomDetails(db *gorm.DB) error {
	return db.
		Where("entry_id NOT IN (?)", db.Model(&backlog.Entry{}).Select("entry_id")).
		Delete(&backlog.CustomGameDetail{}).Error
}
