package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"emochat/pkg/domain"
)

const (
	maxOpenConns    = 20
	minIdleConns    = 1
	connMaxLifetime = time.Hour
)

// GormStore implements Store using GORM over Postgres, or SQLite for
// tests and local runs.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and caps the pool.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ConversationModel{}, &MessageModel{}, &UserSettingsModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(minIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return &GormStore{db: db}, nil
}

// Ping verifies database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close drains the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user. A duplicate email surfaces as ErrEmailTaken.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// HasUserEmail checks if email exists. Comparison is case-sensitive,
// matching how emails are stored.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// TouchLastLogin records a successful login time.
func (s *GormStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}

// CreateConversation stores a new conversation row.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

type conversationSummaryRow struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int64
}

// ListConversationsByOwner returns non-archived conversations with a
// derived message count, most recently active first.
func (s *GormStore) ListConversationsByOwner(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	var rows []conversationSummaryRow
	err := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Select("conversations.id, conversations.title, conversations.created_at, conversations.updated_at, COUNT(messages.id) AS message_count").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Where("conversations.user_id = ? AND conversations.is_archived = ?", ownerID, false).
		Group("conversations.id, conversations.title, conversations.created_at, conversations.updated_at").
		Order("conversations.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.ConversationSummary{
			ID:           row.ID,
			Title:        row.Title,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
			MessageCount: row.MessageCount,
		})
	}
	return res, nil
}

// GetConversation retrieves a conversation scoped by owner. A conversation
// owned by someone else is indistinguishable from a missing one.
func (s *GormStore) GetConversation(ctx context.Context, id, ownerID string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// RenameConversation overwrites the title when the caller owns the row.
// The ownership check and the update are the same statement.
func (s *GormStore) RenameConversation(ctx context.Context, id, ownerID, title string) (domain.Conversation, bool, error) {
	var out domain.Conversation
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).
			Where("id = ? AND user_id = ?", id, ownerID).
			Update("title", title)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		var model ConversationModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		out = conversationFromModel(model)
		return nil
	})
	if err != nil || !found {
		return domain.Conversation{}, false, err
	}
	return out, true, nil
}

// DeleteConversation removes a conversation and its messages in one
// transaction and reports how many messages went with it.
func (s *GormStore) DeleteConversation(ctx context.Context, id, ownerID string) (int64, bool, error) {
	var deleted int64
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, ownerID).Delete(&ConversationModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		mres := tx.Where("conversation_id = ?", id).Delete(&MessageModel{})
		if mres.Error != nil {
			return mres.Error
		}
		deleted = mres.RowsAffected
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return deleted, found, nil
}

// ListMessages returns a conversation's messages in sequence order.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("message_order ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// AppendMessages inserts msgs with consecutive message_order values
// starting at max(existing)+1, all-or-nothing. Touching the parent row
// first doubles as the ownership check and, on postgres, takes the row
// lock that serializes concurrent appends to one conversation.
func (s *GormStore) AppendMessages(ctx context.Context, conversationID, ownerID string, msgs []domain.Message) ([]domain.Message, bool, error) {
	if len(msgs) == 0 {
		return nil, false, errors.New("append requires at least one message")
	}
	out := make([]domain.Message, 0, len(msgs))
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).
			Where("id = ? AND user_id = ?", conversationID, ownerID).
			Update("updated_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true

		var maxOrder int
		row := tx.Model(&MessageModel{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(message_order), 0)").
			Row()
		if err := row.Scan(&maxOrder); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, msg := range msgs {
			model := messageToModel(msg)
			model.ConversationID = conversationID
			model.MessageOrder = maxOrder + i + 1
			model.CreatedAt = now
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = append(out, messageFromModel(model))
		}

		// One-shot auto-title: only the message that received order 1 can
		// trigger it, and only while the title still equals the sentinel.
		if first := out[0]; first.MessageOrder == 1 && first.Role == string(domain.RoleUser) {
			res := tx.Model(&ConversationModel{}).
				Where("id = ? AND title = ?", conversationID, domain.DefaultTitle).
				Update("title", domain.TitlePreview(first.Content))
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return out, true, nil
}

// GetSettings returns the stored settings row, if any.
func (s *GormStore) GetSettings(ctx context.Context, userID string) (domain.UserSettings, bool, error) {
	var model UserSettingsModel
	err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserSettings{}, false, nil
		}
		return domain.UserSettings{}, false, err
	}
	return settingsFromModel(model), true, nil
}

// UpsertSettings creates or overwrites the single settings row per user.
func (s *GormStore) UpsertSettings(ctx context.Context, settings domain.UserSettings) (domain.UserSettings, error) {
	model := settingsToModel(settings)
	model.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"preferred_model", "use_builtin_key", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.UserSettings{}, err
	}
	return settingsFromModel(model), nil
}
