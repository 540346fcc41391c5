package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"emochat/pkg/auth"
	"emochat/pkg/domain"
	"emochat/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	DBDriver    string
	JWTSecret   string
	SessionTTL  time.Duration

	// Injected by tests; built from the fields above when nil.
	Store    store.Store
	Sessions *store.JWTSessionStore
}

// App is the conversation engine wiring storage, credentials, and
// session tokens together. It owns every invariant the HTTP layer
// relies on: ownership scoping, message ordering, and title derivation.
type App struct {
	store    store.Store
	sessions *store.JWTSessionStore
}

// New constructs the application with database storage and sessions.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	sessions := cfg.Sessions
	if sessions == nil {
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return nil, fmt.Errorf("jwt secret required")
		}
		sessions = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
	}
	return &App{
		store:    dataStore,
		sessions: sessions,
	}, nil
}

// Close releases the underlying connection pool.
func (a *App) Close() error {
	return a.store.Close()
}

// Health checks database connectivity.
func (a *App) Health(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// SignUp registers a new user and issues a session token. Name and
// email are stored exactly as sent; email comparison is case-sensitive.
func (a *App) SignUp(ctx context.Context, name, email, password string) (domain.User, string, error) {
	if name == "" || email == "" || password == "" {
		return domain.User{}, "", ErrSignupFieldsRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		IsActive:     true,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if err == store.ErrEmailTaken {
			// Lost the race with a concurrent signup for the same email.
			return domain.User{}, "", ErrEmailAlreadyExists
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID, user.Email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials for an active user, records last_login,
// and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !user.IsActive {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if err := a.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return domain.User{}, "", fmt.Errorf("update last login: %w", err)
	}
	user.LastLogin = &now
	token, err := a.sessions.NewSession(user.ID, user.Email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Identity resolves the caller from a bearer token.
func (a *App) Identity(token string) (domain.Identity, error) {
	return a.sessions.VerifySession(token)
}

// ListConversations returns the caller's chat list, recency first.
func (a *App) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	return a.store.ListConversationsByOwner(ctx, userID)
}

// CreateConversation starts a conversation, defaulting the title to the
// sentinel when the caller supplies none.
func (a *App) CreateConversation(ctx context.Context, userID, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultTitle
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation with its messages in sequence
// order, or ErrConversationNotFound when it is missing or not owned.
func (a *App) GetConversation(ctx context.Context, userID, id string) (domain.Conversation, []domain.Message, error) {
	conv, found, err := a.store.GetConversation(ctx, id, userID)
	if err != nil {
		return domain.Conversation{}, nil, fmt.Errorf("fetch conversation: %w", err)
	}
	if !found {
		return domain.Conversation{}, nil, ErrConversationNotFound
	}
	messages, err := a.store.ListMessages(ctx, id)
	if err != nil {
		return domain.Conversation{}, nil, fmt.Errorf("fetch messages: %w", err)
	}
	return conv, messages, nil
}

// RenameConversation overwrites the title. A manual title never matches
// the sentinel again, so the auto-title rule cannot fire afterwards.
func (a *App) RenameConversation(ctx context.Context, userID, id, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, ErrTitleRequired
	}
	conv, found, err := a.store.RenameConversation(ctx, id, userID, title)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("rename conversation: %w", err)
	}
	if !found {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages, reporting
// how many messages were removed.
func (a *App) DeleteConversation(ctx context.Context, userID, id string) (int64, error) {
	deleted, found, err := a.store.DeleteConversation(ctx, id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	if !found {
		return 0, ErrConversationNotFound
	}
	return deleted, nil
}

// MessageInput is a role/content pair supplied by the caller.
type MessageInput struct {
	Role    string
	Content string
}

func validateMessageInput(in MessageInput) error {
	if strings.TrimSpace(in.Role) == "" || in.Content == "" {
		return ErrRoleAndContentRequired
	}
	if !domain.ValidRole(in.Role) {
		return ErrInvalidRole
	}
	return nil
}

// AddMessage appends one message to a conversation the caller owns.
func (a *App) AddMessage(ctx context.Context, userID, conversationID string, in MessageInput) (domain.Message, error) {
	messages, err := a.AddMessages(ctx, userID, conversationID, []MessageInput{in})
	if err != nil {
		return domain.Message{}, err
	}
	return messages[0], nil
}

// AddMessages appends a batch of messages as one transaction. Every
// element is validated before anything is persisted, and the store
// assigns consecutive order values from max(existing)+1.
func (a *App) AddMessages(ctx context.Context, userID, conversationID string, inputs []MessageInput) ([]domain.Message, error) {
	if len(inputs) == 0 {
		return nil, ErrMessagesRequired
	}
	msgs := make([]domain.Message, 0, len(inputs))
	for _, in := range inputs {
		if err := validateMessageInput(in); err != nil {
			return nil, err
		}
		msgs = append(msgs, domain.Message{
			ID:      uuid.NewString(),
			Role:    in.Role,
			Content: in.Content,
		})
	}
	inserted, found, err := a.store.AppendMessages(ctx, conversationID, userID, msgs)
	if err != nil {
		return nil, fmt.Errorf("append messages: %w", err)
	}
	if !found {
		return nil, ErrConversationNotFound
	}
	return inserted, nil
}

// ListMessages returns a conversation's messages after an ownership check.
func (a *App) ListMessages(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	_, found, err := a.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	if !found {
		return nil, ErrConversationNotFound
	}
	return a.store.ListMessages(ctx, conversationID)
}

// Settings returns the caller's settings, falling back to defaults when
// no row exists. Absent settings are not an error.
func (a *App) Settings(ctx context.Context, userID string) (domain.UserSettings, error) {
	settings, found, err := a.store.GetSettings(ctx, userID)
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("fetch settings: %w", err)
	}
	if !found {
		return domain.DefaultSettings(userID), nil
	}
	return settings, nil
}

// UpdateSettings upserts the caller's settings. Absent fields reset to
// their defaults rather than keeping the stored value, matching the
// documented (if lenient) contract.
func (a *App) UpdateSettings(ctx context.Context, userID string, preferredModel *string, useBuiltinKey *bool) (domain.UserSettings, error) {
	settings := domain.DefaultSettings(userID)
	if preferredModel != nil {
		settings.PreferredModel = *preferredModel
	}
	if useBuiltinKey != nil {
		settings.UseBuiltinKey = *useBuiltinKey
	}
	updated, err := a.store.UpsertSettings(ctx, settings)
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("update settings: %w", err)
	}
	return updated, nil
}
