package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/moneysplash/community-bot/internal/guild"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/storage"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) GetExpiration(ctx context.Context, userID string) (*models.ExpirationRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExpirationRecord), args.Error(1)
}

type mockGuild struct{ mock.Mock }

func (m *mockGuild) MembersWithRole(ctx context.Context, roleID string) ([]*guild.Member, error) {
	args := m.Called(ctx, roleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*guild.Member), args.Error(1)
}

func (m *mockGuild) AddRole(ctx context.Context, userID, roleID string) error {
	args := m.Called(ctx, userID, roleID)
	return args.Error(0)
}

func (m *mockGuild) RemoveRole(ctx context.Context, userID, roleID string) error {
	args := m.Called(ctx, userID, roleID)
	return args.Error(0)
}

func (m *mockGuild) SendEmbed(ctx context.Context, channelID, content string, embed *guild.Embed) error {
	args := m.Called(ctx, channelID, content, embed)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		VIPRoleID:       "vip-role",
		AwaitingRoleID:  "awaiting-role",
		BotLogChannelID: "botlog-channel",
	}
}

func TestRunOnce_RevokesMemberWithoutRecord(t *testing.T) {
	store := new(mockStore)
	g := new(mockGuild)
	a := New(store, g, testConfig(), newNoopLogger())

	g.On("MembersWithRole", mock.Anything, "vip-role").Return([]*guild.Member{
		{UserID: "user-drift", Username: "maria"},
	}, nil)
	store.On("GetExpiration", mock.Anything, "user-drift").Return(nil, storage.ErrNotFound)
	g.On("RemoveRole", mock.Anything, "user-drift", "vip-role").Return(nil)
	g.On("AddRole", mock.Anything, "user-drift", "awaiting-role").Return(nil)
	g.On("SendEmbed", mock.Anything, "botlog-channel", "", mock.Anything).Return(nil)

	require.NoError(t, a.RunOnce(context.Background()))

	g.AssertExpectations(t)
}

func TestRunOnce_KeepsMemberWithValidRecord(t *testing.T) {
	store := new(mockStore)
	g := new(mockGuild)
	a := New(store, g, testConfig(), newNoopLogger())

	g.On("MembersWithRole", mock.Anything, "vip-role").Return([]*guild.Member{
		{UserID: "user-ok", Username: "joao"},
	}, nil)
	store.On("GetExpiration", mock.Anything, "user-ok").
		Return(&models.ExpirationRecord{UserID: "user-ok", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil)

	require.NoError(t, a.RunOnce(context.Background()))

	g.AssertNotCalled(t, "RemoveRole", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnce_RevokesMemberWithStaleRecord(t *testing.T) {
	store := new(mockStore)
	g := new(mockGuild)
	a := New(store, g, testConfig(), newNoopLogger())

	g.On("MembersWithRole", mock.Anything, "vip-role").Return([]*guild.Member{
		{UserID: "user-stale", Username: "pedro"},
	}, nil)
	store.On("GetExpiration", mock.Anything, "user-stale").
		Return(&models.ExpirationRecord{UserID: "user-stale", ExpiresAt: time.Now().Add(-time.Hour)}, nil)
	g.On("RemoveRole", mock.Anything, "user-stale", "vip-role").Return(nil)
	g.On("AddRole", mock.Anything, "user-stale", "awaiting-role").Return(nil)
	g.On("SendEmbed", mock.Anything, "botlog-channel", "", mock.Anything).Return(nil)

	require.NoError(t, a.RunOnce(context.Background()))

	g.AssertExpectations(t)
}

func TestRunOnce_StoreErrorSkipsMember(t *testing.T) {
	store := new(mockStore)
	g := new(mockGuild)
	a := New(store, g, testConfig(), newNoopLogger())

	g.On("MembersWithRole", mock.Anything, "vip-role").Return([]*guild.Member{
		{UserID: "user-err", Username: "ana"},
		{UserID: "user-drift", Username: "maria"},
	}, nil)
	store.On("GetExpiration", mock.Anything, "user-err").
		Return(nil, context.DeadlineExceeded)
	store.On("GetExpiration", mock.Anything, "user-drift").Return(nil, storage.ErrNotFound)
	g.On("RemoveRole", mock.Anything, "user-drift", "vip-role").Return(nil)
	g.On("AddRole", mock.Anything, "user-drift", "awaiting-role").Return(nil)
	g.On("SendEmbed", mock.Anything, "botlog-channel", "", mock.Anything).Return(nil)

	require.NoError(t, a.RunOnce(context.Background()))

	g.AssertNotCalled(t, "RemoveRole", mock.Anything, "user-err", mock.Anything)
}
