package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/moneysplash/community-bot/internal/models"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) ListExpirations(ctx context.Context) ([]*models.ExpirationRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ExpirationRecord), args.Error(1)
}

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Evaluate(ctx context.Context, userID string, expiresAt time.Time, now time.Time) error {
	args := m.Called(ctx, userID, expiresAt, now)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep_EvaluatesOnlyNearExpiry(t *testing.T) {
	store := new(mockStore)
	engine := new(mockEngine)
	s := New(store, engine, newNoopLogger())

	now := time.Now()
	soon := now.Add(2 * 24 * time.Hour)
	far := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	store.On("ListExpirations", mock.Anything).Return([]*models.ExpirationRecord{
		{ID: 1, UserID: "user-soon", ExpiresAt: soon},
		{ID: 2, UserID: "user-far", ExpiresAt: far},
		{ID: 3, UserID: "user-past", ExpiresAt: past},
	}, nil)
	engine.On("Evaluate", mock.Anything, "user-soon", soon, mock.Anything).Return(nil)
	engine.On("Evaluate", mock.Anything, "user-past", past, mock.Anything).Return(nil)

	s.Sweep(context.Background())

	engine.AssertExpectations(t)
	engine.AssertNotCalled(t, "Evaluate", mock.Anything, "user-far", mock.Anything, mock.Anything)
}

func TestSweep_ContinuesAfterEvaluateError(t *testing.T) {
	store := new(mockStore)
	engine := new(mockEngine)
	s := New(store, engine, newNoopLogger())

	now := time.Now()
	first := now.Add(-time.Hour)
	second := now.Add(24 * time.Hour)

	store.On("ListExpirations", mock.Anything).Return([]*models.ExpirationRecord{
		{ID: 1, UserID: "user-1", ExpiresAt: first},
		{ID: 2, UserID: "user-2", ExpiresAt: second},
	}, nil)
	engine.On("Evaluate", mock.Anything, "user-1", first, mock.Anything).
		Return(errors.New("platform unavailable"))
	engine.On("Evaluate", mock.Anything, "user-2", second, mock.Anything).Return(nil)

	s.Sweep(context.Background())

	engine.AssertExpectations(t)
}

func TestSweep_ListFailureIsNonFatal(t *testing.T) {
	store := new(mockStore)
	engine := new(mockEngine)
	s := New(store, engine, newNoopLogger())

	store.On("ListExpirations", mock.Anything).Return(nil, errors.New("connection refused"))

	s.Sweep(context.Background())

	engine.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_RestartCancelsPreviousRun(t *testing.T) {
	store := new(mockStore)
	engine := new(mockEngine)
	s := New(store, engine, newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	first := s.cancel

	s.Start(ctx)
	second := s.cancel

	if first == nil || second == nil {
		t.Fatal("expected cancel functions to be set")
	}
	s.Stop()
	if s.cancel != nil {
		t.Fatal("expected cancel to be cleared after Stop")
	}
}
