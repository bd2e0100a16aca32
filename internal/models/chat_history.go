package models

import "gorm.io/gorm"

// ChatHistory represents a saved chat message in the PostgreSQL database.
// The embedded gorm.Model provides ID, CreatedAt, UpdatedAt, and DeletedAt fields,
// which serve as the message ID and timestamps.
type ChatHistory struct {
	gorm.Model

	// ChatID is the identifier of the chat session where the message was sent.
	ChatID string `gorm:"type:text;not null;index:idx_chat_msg"`
	// SenderID is the ID of the user who sent the message.
	SenderID string `gorm:"type:text;not null;index:idx_chat_msg"`
	// Content is the message text.
	Content string `gorm:"type:text;not null"`
	// Type indicates the kind of message ("text" or "system").
	Type string `gorm:"type:text;not null"`
}

// ToMessage converts the stored row into the relayed form.
func (h *ChatHistory) ToMessage() ChatMessage {
	return ChatMessage{
		ID:       h.ID,
		SenderID: h.SenderID,
		ChatID:   h.ChatID,
		Content:  h.Content,
		Type:     h.Type,
	}
}
