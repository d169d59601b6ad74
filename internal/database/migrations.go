package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillVoteCounters = "2026-07-14_backfill_vote_counters"

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
		{name: migrationBackfillVoteCounters, apply: backfillVoteCounters},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillVoteCounters recomputes the denormalized like/dislike counters from
// the vote membership rows, repairing databases written before the counters
// and membership were updated in one transaction.
func backfillVoteCounters(db *gorm.DB) error {
	likeUpdate := `UPDATE deals SET likes = (
		SELECT COUNT(*) FROM deal_votes
		WHERE deal_votes.deal_id = deals.deal_id AND deal_votes.is_like = 1
	);`
	if err := db.Exec(likeUpdate).Error; err != nil {
		return err
	}
	dislikeUpdate := `UPDATE deals SET dislikes = (
		SELECT COUNT(*) FROM deal_votes
		WHERE deal_votes.deal_id = deals.deal_id AND deal_votes.is_like = 0
	);`
	return db.Exec(dislikeUpdate).Error
}
