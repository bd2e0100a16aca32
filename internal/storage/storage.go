package storage

import (
	"context"
	"time"

	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("storage: user not found")

// Storage is the relational side of the app: profiles, block lists, chat
// history and complaints. Live chat state lives in the document store.
type Storage interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	SaveUserIfNotExists(ctx context.Context, telegramID int64, displayName string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	SetLanguage(ctx context.Context, userID, lang string) error
	UpdateUserReputation(ctx context.Context, userID string, delta int) error
	LookupProfile(ctx context.Context, userID string) (models.Member, bool, error)

	AddBlockedUser(ctx context.Context, userID, targetID string) error
	RemoveBlockedUser(ctx context.Context, userID, targetID string) error
	GetBlockedUsers(ctx context.Context, userID string) ([]string, error)

	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	GetChatHistory(ctx context.Context, chatID string, limit int) ([]models.ChatHistory, error)

	SaveComplaint(ctx context.Context, complaint *models.Complaint) error
	CountComplaintsSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

type Service struct {
	DB  *gorm.DB
	log *zap.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{DB: db, log: log}
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := db.AutoMigrate(&models.User{}, &models.ChatHistory{}, &models.Complaint{}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveUserIfNotExists returns the user bound to a Telegram chat, creating
// the profile on first contact.
func (s *Service) SaveUserIfNotExists(ctx context.Context, telegramID int64, displayName string) (*models.User, error) {
	var user models.User
	defaults := models.User{
		TelegramID:      &telegramID,
		DisplayName:     displayName,
		ReputationScore: config.InitialReputation,
	}

	result := s.DB.WithContext(ctx).Where("telegram_id = ?", telegramID).FirstOrCreate(&user, defaults)
	if result.Error != nil {
		s.log.Error("failed to save user on first contact", zap.Int64("telegram_id", telegramID), zap.Error(result.Error))
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("new user saved", zap.String("user_id", user.ID), zap.Int64("telegram_id", telegramID))
	}
	return &user, nil
}

func (s *Service) CreateUser(ctx context.Context, user *models.User) error {
	if user.ReputationScore == 0 {
		user.ReputationScore = config.InitialReputation
	}
	return s.DB.WithContext(ctx).Create(user).Error
}

func (s *Service) UpdateUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) SetLanguage(ctx context.Context, userID, lang string) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("language", lang).Error
}

// UpdateUserReputation adds delta to the score, clamped to the allowed range.
func (s *Service) UpdateUserReputation(ctx context.Context, userID string, delta int) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("reputation_score", gorm.Expr("LEAST(GREATEST(reputation_score + ?, ?), ?)",
			delta, config.MinReputation, config.MaxReputation)).Error
}

// LookupProfile implements the profile lookup of the matcher and the session
// registry.
func (s *Service) LookupProfile(ctx context.Context, userID string) (models.Member, bool, error) {
	user, err := s.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return models.Member{}, false, nil
	}
	if err != nil {
		return models.Member{}, false, err
	}
	return user.AsMember(), true, nil
}

func (s *Service) AddBlockedUser(ctx context.Context, userID, targetID string) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND NOT (? = ANY(COALESCE(blocked_users, '{}')))", userID, targetID).
		Update("blocked_users", gorm.Expr("array_append(COALESCE(blocked_users, '{}'), ?)", targetID)).Error
}

func (s *Service) RemoveBlockedUser(ctx context.Context, userID, targetID string) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("blocked_users", gorm.Expr("array_remove(blocked_users, ?)", targetID)).Error
}

func (s *Service) GetBlockedUsers(ctx context.Context, userID string) ([]string, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return []string(user.BlockedUsers), nil
}

// SaveMessage stores msg and fills in its ID.
func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	history := models.ChatHistory{
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Type:     msg.Type,
	}
	if err := s.DB.WithContext(ctx).Create(&history).Error; err != nil {
		s.log.Error("failed to save message", zap.String("chat_id", msg.ChatID), zap.Error(err))
		return err
	}
	msg.ID = history.ID
	return nil
}

// GetChatHistory returns the latest limit messages of a chat, oldest first.
func (s *Service) GetChatHistory(ctx context.Context, chatID string, limit int) ([]models.ChatHistory, error) {
	var history []models.ChatHistory
	q := s.DB.WithContext(ctx).Where("chat_id = ?", chatID).Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true})
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&history).Error; err != nil {
		s.log.Error("failed to get chat history", zap.String("chat_id", chatID), zap.Error(err))
		return nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (s *Service) SaveComplaint(ctx context.Context, complaint *models.Complaint) error {
	if complaint.Status == "" {
		complaint.Status = "new"
	}
	if err := s.DB.WithContext(ctx).Create(complaint).Error; err != nil {
		s.log.Error("failed to save complaint", zap.String("chat_id", complaint.ChatID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) CountComplaintsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Complaint{}).
		Where("reported_user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}
