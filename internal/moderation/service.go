// Package moderation handles complaints, reputation, bans and block lists.
package moderation

import (
	"context"
	"time"

	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUnknownComplaintType = errors.New("moderation: unknown complaint type")
	ErrSelfReport           = errors.New("moderation: cannot report yourself")
	ErrSelfBlock            = errors.New("moderation: cannot block yourself")
)

// Store is the slice of storage the service needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	UpdateUserReputation(ctx context.Context, userID string, delta int) error
	SaveComplaint(ctx context.Context, complaint *models.Complaint) error
	CountComplaintsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	AddBlockedUser(ctx context.Context, userID, targetID string) error
	RemoveBlockedUser(ctx context.Context, userID, targetID string) error
	GetBlockedUsers(ctx context.Context, userID string) ([]string, error)
}

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Weight returns the reputation penalty of a complaint type, 0 if unknown.
func Weight(complaintType string) int {
	return config.ComplaintWeights[complaintType]
}

// BanDuration is how long a ban of the given level lasts.
func BanDuration(level int) time.Duration {
	switch level {
	case 1:
		return config.BanLevel1Duration
	case 2:
		return config.BanLevel2Duration
	default:
		return config.BanLevel3Duration
	}
}

// Report records a complaint, lowers the reported user's reputation and bans
// them when a threshold is crossed. It reports whether a ban was applied.
func (s *Service) Report(ctx context.Context, c *models.Complaint) (bool, error) {
	if c.ReporterID == c.ReportedUserID {
		return false, ErrSelfReport
	}
	weight := Weight(c.ComplaintType)
	if weight == 0 {
		return false, errors.Wrap(ErrUnknownComplaintType, c.ComplaintType)
	}

	if err := s.store.SaveComplaint(ctx, c); err != nil {
		return false, errors.Wrap(err, "save complaint")
	}
	if err := s.store.UpdateUserReputation(ctx, c.ReportedUserID, -weight); err != nil {
		return false, errors.Wrap(err, "update reputation")
	}
	s.log.Info("complaint recorded",
		zap.String("user_id", c.ReportedUserID),
		zap.String("chat_id", c.ChatID),
		zap.String("type", c.ComplaintType))

	return s.CheckForBan(ctx, c.ReportedUserID)
}

// CheckForBan bans the user when their reputation fell under the threshold
// or they collected too many complaints within the frequency window.
func (s *Service) CheckForBan(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if user.IsBanned(now) {
		return false, nil
	}

	if user.ReputationScore < config.BanThresholdReputation {
		return true, s.applyBan(ctx, user, now)
	}

	n, err := s.store.CountComplaintsSince(ctx, userID, now.Add(-config.BanFrequencyWindow))
	if err != nil {
		return false, err
	}
	if n > config.BanThresholdFrequency {
		return true, s.applyBan(ctx, user, now)
	}
	return false, nil
}

// applyBan escalates the level when the previous ban is recent.
func (s *Service) applyBan(ctx context.Context, user *models.User, now time.Time) error {
	level := 1
	if user.LastBanAt != nil && now.Sub(*user.LastBanAt) < config.BanEscalationWindow {
		level = min(user.BanLevel+1, config.MaxBanLevel)
	}
	until := now.Add(BanDuration(level))

	user.BanLevel = level
	user.BannedUntil = &until
	user.LastBanAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return errors.Wrap(err, "apply ban")
	}
	s.log.Warn("user banned", zap.String("user_id", user.ID), zap.Int("level", level), zap.Time("until", until))
	return nil
}

// Ban bans userID by operator decision, escalating like an automatic ban.
// It returns when the ban ends.
func (s *Service) Ban(ctx context.Context, userID string) (time.Time, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.applyBan(ctx, user, s.now()); err != nil {
		return time.Time{}, err
	}
	return *user.BannedUntil, nil
}

// Unban lifts an active ban. The escalation history is kept.
func (s *Service) Unban(ctx context.Context, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	user.BannedUntil = nil
	return s.store.UpdateUser(ctx, user)
}

func (s *Service) IsBanned(ctx context.Context, userID string) (bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsBanned(s.now()), nil
}

func (s *Service) Block(ctx context.Context, userID, targetID string) error {
	if userID == targetID {
		return ErrSelfBlock
	}
	if err := s.store.AddBlockedUser(ctx, userID, targetID); err != nil {
		return errors.Wrap(err, "block")
	}
	s.log.Info("user blocked", zap.String("user_id", userID), zap.String("target_id", targetID))
	return nil
}

func (s *Service) Unblock(ctx context.Context, userID, targetID string) error {
	return errors.Wrap(s.store.RemoveBlockedUser(ctx, userID, targetID), "unblock")
}

// Blocked returns the ids userID refuses to be matched with.
func (s *Service) Blocked(ctx context.Context, userID string) ([]string, error) {
	return s.store.GetBlockedUsers(ctx, userID)
}
