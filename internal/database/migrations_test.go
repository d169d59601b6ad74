package database

import (
	"path/filepath"
	"testing"

	"github.com/everdeals/backend/internal/deals"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsVoteCounters(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&deals.Deal{}, &deals.Vote{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	// Counters written out of step with membership rows.
	deal := deals.Deal{DealID: "deal-1", Name: "Stale Deal", CreatorUserID: "creator-1", Likes: 9, Dislikes: 9}
	if err := database.Create(&deal).Error; err != nil {
		testContext.Fatalf("failed to insert deal: %v", err)
	}
	votes := []deals.Vote{
		{DealID: "deal-1", UserID: "user-1", IsLike: true},
		{DealID: "deal-1", UserID: "user-2", IsLike: true},
		{DealID: "deal-1", UserID: "user-3", IsLike: false},
	}
	if err := database.Create(&votes).Error; err != nil {
		testContext.Fatalf("failed to insert votes: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored deals.Deal
	if err := database.Where("deal_id = ?", "deal-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload deal: %v", err)
	}
	if stored.Likes != 2 || stored.Dislikes != 1 {
		testContext.Fatalf("expected counters 2/1 after backfill, got %d/%d", stored.Likes, stored.Dislikes)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillVoteCounters).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}
