package moderation

import (
	"context"
	"testing"
	"time"

	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockStore) UpdateUser(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockStore) UpdateUserReputation(ctx context.Context, userID string, delta int) error {
	return m.Called(ctx, userID, delta).Error(0)
}

func (m *mockStore) SaveComplaint(ctx context.Context, c *models.Complaint) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockStore) CountComplaintsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	args := m.Called(ctx, userID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) AddBlockedUser(ctx context.Context, userID, targetID string) error {
	return m.Called(ctx, userID, targetID).Error(0)
}

func (m *mockStore) RemoveBlockedUser(ctx context.Context, userID, targetID string) error {
	return m.Called(ctx, userID, targetID).Error(0)
}

func (m *mockStore) GetBlockedUsers(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]string), args.Error(1)
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newService(store Store) *Service {
	s := NewService(store, nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestReport_LowersReputation(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	c := &models.Complaint{ReporterID: "amy", ReportedUserID: "ben", ComplaintType: "Medium"}
	store.On("SaveComplaint", ctx, c).Return(nil)
	store.On("UpdateUserReputation", ctx, "ben", -50).Return(nil)
	store.On("GetUserByID", ctx, "ben").Return(&models.User{ID: "ben", ReputationScore: 900}, nil)
	store.On("CountComplaintsSince", ctx, "ben", fixedNow.Add(-config.BanFrequencyWindow)).Return(int64(1), nil)

	banned, err := s.Report(ctx, c)
	require.NoError(t, err)
	assert.False(t, banned)
	store.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestReport_Rejections(t *testing.T) {
	s := newService(new(mockStore))

	_, err := s.Report(context.Background(), &models.Complaint{ReporterID: "amy", ReportedUserID: "amy", ComplaintType: "Low"})
	assert.ErrorIs(t, err, ErrSelfReport)

	_, err = s.Report(context.Background(), &models.Complaint{ReporterID: "amy", ReportedUserID: "ben", ComplaintType: "Spicy"})
	assert.ErrorIs(t, err, ErrUnknownComplaintType)
}

func TestCheckForBan_ReputationThreshold(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	user := &models.User{ID: "ben", ReputationScore: config.BanThresholdReputation - 1}
	store.On("GetUserByID", ctx, "ben").Return(user, nil)
	store.On("UpdateUser", ctx, user).Return(nil)

	banned, err := s.CheckForBan(ctx, "ben")
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, 1, user.BanLevel)
	require.NotNil(t, user.BannedUntil)
	assert.Equal(t, fixedNow.Add(config.BanLevel1Duration), *user.BannedUntil)
	store.AssertNotCalled(t, "CountComplaintsSince", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckForBan_Frequency(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	user := &models.User{ID: "ben", ReputationScore: 900}
	store.On("GetUserByID", ctx, "ben").Return(user, nil)
	store.On("CountComplaintsSince", ctx, "ben", mock.Anything).Return(int64(config.BanThresholdFrequency+1), nil)
	store.On("UpdateUser", ctx, user).Return(nil)

	banned, err := s.CheckForBan(ctx, "ben")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestCheckForBan_Escalates(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		prevLevel int
		lastBan   time.Duration
		wantLevel int
	}{
		{"recent first offence", 1, 48 * time.Hour, 2},
		{"recent second offence", 2, 48 * time.Hour, 3},
		{"capped", 3, time.Hour, 3},
		{"old history resets", 3, 60 * 24 * time.Hour, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(mockStore)
			s := newService(store)
			last := fixedNow.Add(-tc.lastBan)
			user := &models.User{ID: "ben", ReputationScore: 0, BanLevel: tc.prevLevel, LastBanAt: &last}
			store.On("GetUserByID", ctx, "ben").Return(user, nil)
			store.On("UpdateUser", ctx, user).Return(nil)

			_, err := s.CheckForBan(ctx, "ben")
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, user.BanLevel)
			assert.Equal(t, fixedNow.Add(BanDuration(tc.wantLevel)), *user.BannedUntil)
		})
	}
}

func TestCheckForBan_AlreadyBanned(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	until := fixedNow.Add(time.Hour)
	store.On("GetUserByID", ctx, "ben").Return(&models.User{ID: "ben", BannedUntil: &until}, nil)

	banned, err := s.CheckForBan(ctx, "ben")
	require.NoError(t, err)
	assert.False(t, banned)
	store.AssertNotCalled(t, "UpdateUser", mock.Anything, mock.Anything)
}

func TestBlockAndUnban(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	assert.ErrorIs(t, s.Block(ctx, "amy", "amy"), ErrSelfBlock)

	store.On("AddBlockedUser", ctx, "amy", "ben").Return(nil)
	require.NoError(t, s.Block(ctx, "amy", "ben"))

	store.On("GetBlockedUsers", ctx, "amy").Return([]string{"ben"}, nil)
	blocked, err := s.Blocked(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, []string{"ben"}, blocked)

	until := fixedNow.Add(time.Hour)
	user := &models.User{ID: "ben", BannedUntil: &until}
	store.On("GetUserByID", ctx, "ben").Return(user, nil)
	banned, err := s.IsBanned(ctx, "ben")
	require.NoError(t, err)
	assert.True(t, banned)

	store.On("UpdateUser", ctx, user).Return(nil)
	require.NoError(t, s.Unban(ctx, "ben"))
	assert.Nil(t, user.BannedUntil)
}

func TestBan_Operator(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	s := newService(store)

	user := &models.User{ID: "ben", ReputationScore: config.MaxReputation}
	store.On("GetUserByID", ctx, "ben").Return(user, nil)
	store.On("UpdateUser", ctx, user).Return(nil)

	until, err := s.Ban(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(config.BanLevel1Duration), until)
	assert.Equal(t, 1, user.BanLevel)
	store.AssertNotCalled(t, "CountComplaintsSince", mock.Anything, mock.Anything, mock.Anything)
}
