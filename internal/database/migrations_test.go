package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/backlogged/backlogged/internal/backlog"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsSyncsStatusNamesAndRemovesOrphans(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&backlog.Entry{}, &backlog.CustomGameDetail{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	entry := backlog.Entry{
		UserID:       "user-1",
		GameID:       "1020",
		GameName:     "Chrono Trigger",
		PlatformID:   19,
		PlatformName: "SNES",
		StatusID:     backlog.StatusNowPlaying,
		StatusName:   "playing",
		DateAdded:    backlog.DateOf(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	if err := database.Create(&entry).Error; err != nil {
		testContext.Fatalf("failed to insert entry: %v", err)
	}
	orphan := backlog.CustomGameDetail{EntryID: entry.EntryID + 100, UserID: "user-1", Summary: "gone"}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert orphan: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored backlog.Entry
	if err := database.Where("entry_id = ?", entry.EntryID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload entry: %v", err)
	}
	if stored.StatusName != backlog.StatusNameNowPlaying {
		testContext.Fatalf("expected status name to be synced, got %q", stored.StatusName)
	}

	var orphans int64
	if err := database.Model(&backlog.CustomGameDetail{}).Count(&orphans).Error; err != nil {
		testContext.Fatalf("failed to count details: %v", err)
	}
	if orphans != 0 {
		testContext.Fatalf("expected orphan details to be removed, got %d", orphans)
	}

	var records []migrationRecord
	if err := database.Find(&records).Error; err != nil {
		testContext.Fatalf("failed to load migration records: %v", err)
	}
	if len(records) != 2 {
		testContext.Fatalf("expected two migration records, got %d", len(records))
	}
	for _, record := range records {
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp for %s", record.Name)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-running migrations must be a no-op: %v", err)
	}
}

func TestOpenCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "backlogged.db")

	database, err := Open(Config{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"backlog_entries", "custom_game_details", "user_timezones", "session_state", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}

func TestOpenRejectsIncompleteConfig(testContext *testing.T) {
	testCases := []Config{
		{Driver: DriverSQLite},
		{Driver: DriverPostgres},
		{Driver: "mysql", Path: "x"},
	}
	for _, cfg := range testCases {
		if _, err := Open(cfg, nil); err == nil {
			testContext.Fatalf("expected error for %+v", cfg)
		}
	}
}
