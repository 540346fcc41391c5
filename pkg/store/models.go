package store

import (
	"time"

	"emochat/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastLogin    *time.Time
	IsActive     bool `gorm:"not null;default:true"`
}

func (UserModel) TableName() string { return "users" }

type ConversationModel struct {
	ID         string    `gorm:"primaryKey"`
	UserID     string    `gorm:"not null;index"`
	Title      string    `gorm:"not null"`
	IsArchived bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel carries a unique (conversation_id, message_order) index so
// two concurrent appends can never commit the same order value.
type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index;uniqueIndex:idx_messages_conversation_order"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"not null"`
	MessageOrder   int       `gorm:"not null;uniqueIndex:idx_messages_conversation_order"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string { return "messages" }

type UserSettingsModel struct {
	UserID         string    `gorm:"primaryKey"`
	PreferredModel string    `gorm:"not null"`
	UseBuiltinKey  bool      `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (UserSettingsModel) TableName() string { return "user_settings" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
		IsActive:     u.IsActive,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
		IsActive:     m.IsActive,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:         c.ID,
		UserID:     c.OwnerID,
		Title:      c.Title,
		IsArchived: c.IsArchived,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:         m.ID,
		OwnerID:    m.UserID,
		Title:      m.Title,
		IsArchived: m.IsArchived,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		MessageOrder:   msg.MessageOrder,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		MessageOrder:   m.MessageOrder,
		CreatedAt:      m.CreatedAt,
	}
}

func settingsToModel(s domain.UserSettings) UserSettingsModel {
	return UserSettingsModel{
		UserID:         s.UserID,
		PreferredModel: s.PreferredModel,
		UseBuiltinKey:  s.UseBuiltinKey,
	}
}

func settingsFromModel(m UserSettingsModel) domain.UserSettings {
	return domain.UserSettings{
		UserID:         m.UserID,
		PreferredModel: m.PreferredModel,
		UseBuiltinKey:  m.UseBuiltinKey,
	}
}
