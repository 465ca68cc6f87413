package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsChatSenderNames(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.User{}, &chat.Message{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seeded := []users.User{
		{ID: "user-1", Username: "ada", DisplayName: "Ada Lovelace"},
		{ID: "user-2", Username: "grace"},
	}
	if err := database.Create(&seeded).Error; err != nil {
		testContext.Fatalf("failed to insert users: %v", err)
	}
	sentAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	messages := []chat.Message{
		{ID: "msg-1", NoteID: "note-1", SenderID: "user-1", Text: "hi", SentAt: sentAt},
		{ID: "msg-2", NoteID: "note-1", SenderID: "user-2", Text: "hello", SentAt: sentAt.Add(time.Second)},
		{ID: "msg-3", NoteID: "note-1", SenderID: "user-1", SenderDisplayName: "Kept", Text: "again", SentAt: sentAt.Add(2 * time.Second)},
		{ID: "msg-4", NoteID: "note-1", SenderID: "ghost", Text: "boo", SentAt: sentAt.Add(3 * time.Second)},
	}
	if err := database.Create(&messages).Error; err != nil {
		testContext.Fatalf("failed to insert messages: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]string{
		"msg-1": "Ada Lovelace",
		"msg-2": "grace",
		"msg-3": "Kept",
		"msg-4": "",
	}
	var stored []chat.Message
	if err := database.Order("id").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload messages: %v", err)
	}
	for _, message := range stored {
		if message.SenderDisplayName != expected[message.ID] {
			testContext.Fatalf("message %s: expected sender name %q, got %q", message.ID, expected[message.ID], message.SenderDisplayName)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillChatSenderNames).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("reapplying migrations should be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "schema.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"users", "notes", "note_collaborators", "chat_messages", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
