package store

import (
	"context"
	"errors"
	"time"

	"emochat/pkg/domain"
)

// ErrEmailTaken signals a unique-constraint hit on users.email.
var ErrEmailTaken = errors.New("email already registered")

// Store defines persistence operations for users, conversations,
// messages, and settings. Compound writes are transactional: ownership
// checks and the mutations they guard commit or roll back together.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	// conversations
	CreateConversation(ctx context.Context, c domain.Conversation) error
	ListConversationsByOwner(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error)
	GetConversation(ctx context.Context, id, ownerID string) (domain.Conversation, bool, error)
	RenameConversation(ctx context.Context, id, ownerID, title string) (domain.Conversation, bool, error)
	DeleteConversation(ctx context.Context, id, ownerID string) (deletedMessages int64, found bool, err error)

	// messages
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	AppendMessages(ctx context.Context, conversationID, ownerID string, msgs []domain.Message) ([]domain.Message, bool, error)

	// settings
	GetSettings(ctx context.Context, userID string) (domain.UserSettings, bool, error)
	UpsertSettings(ctx context.Context, s domain.UserSettings) (domain.UserSettings, error)

	Ping(ctx context.Context) error
	Close() error
}
