package chat

import "time"

// Message is a chat message scoped to a note. It is immutable once stored.
type Message struct {
	ID                string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	NoteID            string    `gorm:"column:note_id;size:190;not null;index:idx_chat_note_sent,priority:1" json:"noteId"`
	SenderID          string    `gorm:"column:sender_id;size:190;not null" json:"senderId"`
	SenderDisplayName string    `gorm:"column:sender_display_name;size:320;not null;default:''" json:"senderDisplayName"`
	Text              string    `gorm:"column:text;type:text;not null" json:"text"`
	SentAt            time.Time `gorm:"column:sent_at;not null;index:idx_chat_note_sent,priority:2" json:"sentAt"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "chat_messages"
}
