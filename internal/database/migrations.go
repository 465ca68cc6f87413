package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillChatSenderNames = "2024-06-01_backfill_chat_sender_names"

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
		{name: migrationBackfillChatSenderNames, apply: backfillChatSenderNames},
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

// backfillChatSenderNames fills sender names on messages stored before names were denormalized.
func backfillChatSenderNames(db *gorm.DB) error {
	return db.Exec(`UPDATE chat_messages
SET sender_display_name = (
	SELECT CASE WHEN TRIM(users.display_name) <> '' THEN TRIM(users.display_name) ELSE users.username END
	FROM users WHERE users.id = chat_messages.sender_id
)
WHERE sender_display_name = ''
AND EXISTS (SELECT 1 FROM users WHERE users.id = chat_messages.sender_id)`).Error
}
