package account

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

func (m *mockStore) CreateUser(ctx context.Context, user models.User) (int64, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) EnsureBalance(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) IncrementBalance(ctx context.Context, userID string, amountCents int64) error {
	args := m.Called(ctx, userID, amountCents)
	return args.Error(0)
}

func (m *mockStore) GetExpiration(ctx context.Context, userID string) (*models.ExpirationRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExpirationRecord), args.Error(1)
}

func (m *mockStore) LastPayment(ctx context.Context, userID string) (*models.PaymentRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentRecord), args.Error(1)
}

func (m *mockStore) CouponUsed(ctx context.Context, userID, coupon string) (bool, error) {
	args := m.Called(ctx, userID, coupon)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertCouponUsage(ctx context.Context, userID, coupon string) error {
	args := m.Called(ctx, userID, coupon)
	return args.Error(0)
}

type mockCache struct{ mock.Mock }

func (m *mockCache) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type mockGuild struct{ mock.Mock }

func (m *mockGuild) AddRole(ctx context.Context, userID, roleID string) error {
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
		RegisteredRoleID:   "registered-role",
		WhatsappChannelID:  "whatsapp-channel",
		CouponLogChannelID: "coupon-log",
		CouponCode:         "BASKMONEY",
		CouponBonusCents:   3750,
	}
}

func newService(store *mockStore, cache *mockCache, g *mockGuild) *Service {
	return New(store, cache, g, testConfig(), newNoopLogger())
}

func TestRegister_Succeeds(t *testing.T) {
	store := new(mockStore)
	g := new(mockGuild)
	s := newService(store, new(mockCache), g)

	store.On("CreateUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.UserID == "user-1" && u.Name == "João Silva" && u.Whatsapp == "11987654321"
	})).Return(int64(1), nil)
	store.On("EnsureBalance", mock.Anything, "user-1").Return(nil)
	g.On("AddRole", mock.Anything, "user-1", "registered-role").Return(nil)
	g.On("SendEmbed", mock.Anything, "whatsapp-channel", "", mock.Anything).Return(nil)

	err := s.Register(context.Background(), "user-1", "joao", models.RegistrationForm{
		Name:     "João Silva",
		Whatsapp: "11987654321",
	})
	require.NoError(t, err)

	store.AssertExpectations(t)
	g.AssertExpectations(t)
}

func TestRegister_RejectsInvalidPhone(t *testing.T) {
	store := new(mockStore)
	s := newService(store, new(mockCache), new(mockGuild))

	cases := []string{
		"987654321",      // без DDD
		"1187654321",     // без девятки
		"119876543210",   // лишняя цифра
		"11 98765-4321",  // с разделителями
		"+5511987654321", // с кодом страны
	}
	for _, phone := range cases {
		err := s.Register(context.Background(), "user-1", "joao", models.RegistrationForm{
			Name:     "João Silva",
			Whatsapp: phone,
		})
		require.ErrorIs(t, err, ErrInvalidPhone, "phone %q", phone)
	}

	store.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	store := new(mockStore)
	s := newService(store, new(mockCache), new(mockGuild))

	store.On("CreateUser", mock.Anything, mock.Anything).
		Return(int64(0), storage.ErrDuplicate)

	err := s.Register(context.Background(), "user-1", "joao", models.RegistrationForm{
		Name:     "João Silva",
		Whatsapp: "11987654321",
	})
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRedeemCoupon_SingleUse(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	g := new(mockGuild)
	s := newService(store, cache, g)

	store.On("CouponUsed", mock.Anything, "user-1", "BASKMONEY").Return(false, nil).Once()
	store.On("InsertCouponUsage", mock.Anything, "user-1", "BASKMONEY").Return(nil).Once()
	store.On("IncrementBalance", mock.Anything, "user-1", int64(3750)).Return(nil).Once()
	cache.On("Invalidate", mock.Anything, "account:summary:user-1").Return(nil).Once()
	g.On("SendEmbed", mock.Anything, "coupon-log", "", mock.Anything).Return(nil).Once()

	bonus, err := s.RedeemCoupon(context.Background(), "user-1", "joao", "BASKMONEY")
	require.NoError(t, err)
	require.Equal(t, int64(3750), bonus)

	// Повторное применение того же кода блокируется.
	store.On("CouponUsed", mock.Anything, "user-1", "BASKMONEY").Return(true, nil).Once()
	_, err = s.RedeemCoupon(context.Background(), "user-1", "joao", "BASKMONEY")
	require.ErrorIs(t, err, ErrCouponAlreadyUsed)

	store.AssertExpectations(t)
}

func TestRedeemCoupon_UnknownCode(t *testing.T) {
	store := new(mockStore)
	s := newService(store, new(mockCache), new(mockGuild))

	_, err := s.RedeemCoupon(context.Background(), "user-1", "joao", "FREEMONEY")
	require.ErrorIs(t, err, ErrCouponUnknown)

	store.AssertNotCalled(t, "CouponUsed", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeemCoupon_ConcurrentInsertBlocked(t *testing.T) {
	store := new(mockStore)
	s := newService(store, new(mockCache), new(mockGuild))

	store.On("CouponUsed", mock.Anything, "user-1", "BASKMONEY").Return(false, nil)
	store.On("InsertCouponUsage", mock.Anything, "user-1", "BASKMONEY").
		Return(storage.ErrDuplicate)

	_, err := s.RedeemCoupon(context.Background(), "user-1", "joao", "BASKMONEY")
	require.ErrorIs(t, err, ErrCouponAlreadyUsed)

	store.AssertNotCalled(t, "IncrementBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestSummary_CacheMissAggregatesAndCaches(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	s := newService(store, cache, new(mockGuild))

	expiresAt := time.Now().Add(5 * 24 * time.Hour)
	last := &models.PaymentRecord{UserID: "user-1", Reference: "MP-1", AmountCents: 7500}

	cache.On("Get", mock.Anything, "account:summary:user-1", mock.Anything).Return(false, nil)
	store.On("GetBalance", mock.Anything, "user-1").Return(int64(1200), nil)
	store.On("LastPayment", mock.Anything, "user-1").Return(last, nil)
	store.On("GetExpiration", mock.Anything, "user-1").
		Return(&models.ExpirationRecord{UserID: "user-1", ExpiresAt: expiresAt}, nil)
	cache.On("Set", mock.Anything, "account:summary:user-1", mock.Anything, time.Minute).
		Return(nil)

	summary, err := s.Summary(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1200), summary.BalanceCents)
	require.Equal(t, last, summary.LastPayment)
	require.NotNil(t, summary.ExpiresAt)
	require.Equal(t, 5, summary.DaysLeft)

	cache.AssertExpectations(t)
}

func TestSummary_NoRecordsStillReturns(t *testing.T) {
	store := new(mockStore)
	cache := new(mockCache)
	s := newService(store, cache, new(mockGuild))

	cache.On("Get", mock.Anything, "account:summary:user-1", mock.Anything).Return(false, nil)
	store.On("GetBalance", mock.Anything, "user-1").Return(int64(0), nil)
	store.On("LastPayment", mock.Anything, "user-1").Return(nil, storage.ErrNotFound)
	store.On("GetExpiration", mock.Anything, "user-1").Return(nil, storage.ErrNotFound)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	summary, err := s.Summary(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), summary.BalanceCents)
	require.Nil(t, summary.LastPayment)
	require.Nil(t, summary.ExpiresAt)
}
