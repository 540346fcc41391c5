package domain

import (
	"time"
)

// MessageRole is the author of a stored message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAI     MessageRole = "ai"
	RoleSystem MessageRole = "system"
)

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	switch MessageRole(role) {
	case RoleUser, RoleAI, RoleSystem:
		return true
	}
	return false
}

// DefaultTitle is the placeholder a conversation carries until either the
// first user message derives a title or the caller sets one.
const DefaultTitle = "New Chat"

// titlePreviewLen caps derived titles at 50 characters plus ellipsis.
const titlePreviewLen = 50

// TitlePreview derives a conversation title from message content. The
// content is used as sent, whitespace included.
func TitlePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= titlePreviewLen {
		return content
	}
	return string(runes[:titlePreviewLen]) + "..."
}

// Defaults served when a user has no settings row yet.
const (
	DefaultPreferredModel = "gemini-pro"
	DefaultUseBuiltinKey  = true
)

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
	IsActive     bool       `json:"isActive"`
}

// Identity is the verified caller extracted from a session token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Conversation struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"-"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	IsArchived bool      `json:"-"`
}

// ConversationSummary is a chat-list entry with a derived message count.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int64     `json:"messageCount"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"-"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	MessageOrder   int       `json:"messageOrder"`
}

type UserSettings struct {
	UserID         string `json:"-"`
	PreferredModel string `json:"preferredModel"`
	UseBuiltinKey  bool   `json:"useBuiltinKey"`
}

// DefaultSettings returns the settings served when no row exists.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:         userID,
		PreferredModel: DefaultPreferredModel,
		UseBuiltinKey:  DefaultUseBuiltinKey,
	}
}
