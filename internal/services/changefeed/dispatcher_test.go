package changefeed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/storage"
)

type mockFeed struct {
	events  chan models.ChangeEvent
	onReset func()
}

func newMockFeed() *mockFeed {
	return &mockFeed{events: make(chan models.ChangeEvent, 8)}
}

func (f *mockFeed) Events() <-chan models.ChangeEvent { return f.events }
func (f *mockFeed) OnReset(fn func())                 { f.onReset = fn }

type mockStore struct{ mock.Mock }

func (m *mockStore) LookupUserIDByRecord(ctx context.Context, table string, recordID int64) (string, error) {
	args := m.Called(ctx, table, recordID)
	return args.String(0), args.Error(1)
}

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Evaluate(ctx context.Context, userID string, expiresAt time.Time, now time.Time) error {
	args := m.Called(ctx, userID, expiresAt, now)
	return args.Error(0)
}

func (m *mockEngine) EnsureEntitledRoles(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockEngine) RevokeCancelled(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockEngine) PurgeDeletedUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timePtr(t time.Time) *time.Time { return &t }

func runEvents(t *testing.T, d *Dispatcher, feed *mockFeed, events ...models.ChangeEvent) {
	t.Helper()
	for _, e := range events {
		feed.events <- e
	}
	close(feed.events)
	d.Run(context.Background())
}

func TestHandle_FutureExpirationGrantsRoles(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	engine.On("EnsureEntitledRoles", mock.Anything, "user-1").Return(nil)

	runEvents(t, d, feed, models.ChangeEvent{
		Table:     models.TableExpirations,
		Op:        models.OpInsert,
		RecordID:  10,
		UserID:    "user-1",
		ExpiresAt: timePtr(time.Now().Add(7 * 24 * time.Hour)),
	})

	engine.AssertExpectations(t)
	engine.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PastExpirationEvaluates(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	expiresAt := time.Now().Add(-time.Hour)
	engine.On("Evaluate", mock.Anything, "user-1", expiresAt, mock.Anything).Return(nil)

	runEvents(t, d, feed, models.ChangeEvent{
		Table:     models.TableExpirations,
		Op:        models.OpUpdate,
		RecordID:  10,
		UserID:    "user-1",
		ExpiresAt: timePtr(expiresAt),
	})

	engine.AssertExpectations(t)
	engine.AssertNotCalled(t, "EnsureEntitledRoles", mock.Anything, mock.Anything)
}

func TestHandle_DeleteResolvesUserFromCache(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	// INSERT наполняет кэш; к моменту DELETE запись из базы уже исчезла,
	// а в payload удаления user_id отсутствует.
	engine.On("EnsureEntitledRoles", mock.Anything, "user-1").Return(nil)
	engine.On("RevokeCancelled", mock.Anything, "user-1").Return(nil)
	store.On("LookupUserIDByRecord", mock.Anything, models.TableExpirations, int64(10)).
		Return("", storage.ErrNotFound)

	future := timePtr(time.Now().Add(24 * time.Hour))
	runEvents(t, d, feed,
		models.ChangeEvent{Table: models.TableExpirations, Op: models.OpInsert, RecordID: 10, UserID: "user-1", ExpiresAt: future},
		models.ChangeEvent{Table: models.TableExpirations, Op: models.OpDelete, RecordID: 10},
	)

	engine.AssertExpectations(t)
}

func TestHandle_DeleteFallsBackToReverseLookup(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	store.On("LookupUserIDByRecord", mock.Anything, models.TableUsers, int64(5)).
		Return("user-2", nil)
	engine.On("PurgeDeletedUser", mock.Anything, "user-2").Return(nil)

	runEvents(t, d, feed, models.ChangeEvent{
		Table:    models.TableUsers,
		Op:       models.OpDelete,
		RecordID: 5,
	})

	store.AssertExpectations(t)
	engine.AssertExpectations(t)
}

func TestHandle_UnresolvableEventDropped(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	store.On("LookupUserIDByRecord", mock.Anything, models.TableExpirations, int64(77)).
		Return("", storage.ErrNotFound)

	runEvents(t, d, feed, models.ChangeEvent{
		Table:    models.TableExpirations,
		Op:       models.OpDelete,
		RecordID: 77,
	})

	engine.AssertNotCalled(t, "RevokeCancelled", mock.Anything, mock.Anything)
}

func TestResetClearsIdentityCache(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	engine.On("EnsureEntitledRoles", mock.Anything, "user-1").Return(nil)
	store.On("LookupUserIDByRecord", mock.Anything, models.TableExpirations, int64(10)).
		Return("", storage.ErrNotFound)

	future := timePtr(time.Now().Add(24 * time.Hour))
	feed.events <- models.ChangeEvent{Table: models.TableExpirations, Op: models.OpInsert, RecordID: 10, UserID: "user-1", ExpiresAt: future}
	close(feed.events)
	d.Run(context.Background())

	require.NotNil(t, feed.onReset)
	feed.onReset()

	// После сброса кэш пуст: DELETE без user_id не разрешается.
	_, ok := d.resolveUser(context.Background(), models.ChangeEvent{
		Table: models.TableExpirations, Op: models.OpDelete, RecordID: 10,
	})
	require.False(t, ok)
}

func TestResetDuringDispatchIsSafe(t *testing.T) {
	feed := newMockFeed()
	store := new(mockStore)
	engine := new(mockEngine)
	d := New(feed, store, engine, newNoopLogger())

	engine.On("EnsureEntitledRoles", mock.Anything, "user-1").Return(nil)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	// Переподписка ленты сбрасывает кэш из чужой горутины, пока
	// диспетчер разбирает буфер событий.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			feed.onReset()
		}
	}()

	future := timePtr(time.Now().Add(24 * time.Hour))
	for i := 0; i < 200; i++ {
		feed.events <- models.ChangeEvent{
			Table:     models.TableExpirations,
			Op:        models.OpInsert,
			RecordID:  int64(i),
			UserID:    "user-1",
			ExpiresAt: future,
		}
	}
	wg.Wait()
	close(feed.events)
	<-done
}
