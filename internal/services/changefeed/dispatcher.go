// Package changefeed маршрутизирует события ленты изменений базы данных
// в машину состояний подписки, реагируя на правки записей почти мгновенно,
// не дожидаясь периодического обхода.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
	"github.com/moneysplash/community-bot/internal/storage"
)

// Feed — источник событий ленты изменений.
type Feed interface {
	Events() <-chan models.ChangeEvent
	OnReset(fn func())
}

// Store — обратный поиск идентификатора пользователя по записи.
type Store interface {
	LookupUserIDByRecord(ctx context.Context, table string, recordID int64) (string, error)
}

// Engine — реакции машины состояний на события ленты.
type Engine interface {
	Evaluate(ctx context.Context, userID string, expiresAt time.Time, now time.Time) error
	EnsureEntitledRoles(ctx context.Context, userID string) error
	RevokeCancelled(ctx context.Context, userID string) error
	PurgeDeletedUser(ctx context.Context, userID string) error
}

// Dispatcher разрешает идентификатор пользователя события и вызывает
// соответствующую операцию движка. Кэш идентификаторов нужен для DELETE:
// в их payload user_id отсутствует, а обратный поиск по базе уже пуст.
type Dispatcher struct {
	feed   Feed
	store  Store
	engine Engine
	log    *slog.Logger

	// identity пополняется из INSERT/UPDATE и читается из DELETE.
	// Сброс приходит из горутины ленты, поэтому доступ под мьютексом.
	mu       sync.Mutex
	identity map[string]string
}

// New создаёт диспетчер и вешает сброс кэша на переподписку ленты:
// после разрыва соединения кэш не авторитетен.
func New(feed Feed, store Store, engine Engine, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		feed:     feed,
		store:    store,
		engine:   engine,
		log:      log,
		identity: make(map[string]string),
	}
	feed.OnReset(d.resetIdentityCache)
	return d
}

func (d *Dispatcher) resetIdentityCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = make(map[string]string)
}

func (d *Dispatcher) rememberIdentity(key, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity[key] = userID
}

func (d *Dispatcher) forgetIdentity(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.identity, key)
}

func (d *Dispatcher) cachedIdentity(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	userID, ok := d.identity[key]
	return userID, ok
}

func identityKey(table string, recordID int64) string {
	return fmt.Sprintf("%s:%d", table, recordID)
}

// Run читает события до закрытия канала ленты. Ошибка обработки одного
// события не останавливает диспетчер: следующий цикл обхода доделает.
func (d *Dispatcher) Run(ctx context.Context) {
	const op = "changefeed.Dispatcher.Run"
	log := d.log.With(sl.Op(op))

	for event := range d.feed.Events() {
		if err := d.handle(ctx, event); err != nil {
			log.Error("failed to handle change event",
				slog.String("table", event.Table),
				slog.String("op", string(event.Op)),
				slog.Int64("record_id", event.RecordID),
				sl.Err(err))
		}
	}
	log.Info("change feed closed, dispatcher stopped")
}

func (d *Dispatcher) handle(ctx context.Context, event models.ChangeEvent) error {
	userID, ok := d.resolveUser(ctx, event)
	if !ok {
		d.log.Warn("dropping change event without resolvable user",
			slog.String("table", event.Table),
			slog.String("op", string(event.Op)),
			slog.Int64("record_id", event.RecordID))
		return nil
	}

	key := identityKey(event.Table, event.RecordID)
	if event.Op == models.OpDelete {
		d.forgetIdentity(key)
	} else {
		d.rememberIdentity(key, userID)
	}

	switch event.Table {
	case models.TableExpirations:
		return d.handleExpiration(ctx, event, userID)
	case models.TableUsers:
		if event.Op == models.OpDelete {
			return d.engine.PurgeDeletedUser(ctx, userID)
		}
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleExpiration(ctx context.Context, event models.ChangeEvent, userID string) error {
	switch event.Op {
	case models.OpDelete:
		return d.engine.RevokeCancelled(ctx, userID)
	case models.OpInsert, models.OpUpdate:
		if event.ExpiresAt == nil {
			d.log.Warn("expiration event without timestamp, skipping",
				slog.Int64("record_id", event.RecordID))
			return nil
		}
		now := time.Now()
		if event.ExpiresAt.After(now) {
			return d.engine.EnsureEntitledRoles(ctx, userID)
		}
		return d.engine.Evaluate(ctx, userID, *event.ExpiresAt, now)
	default:
		return nil
	}
}

// resolveUser находит идентификатор пользователя: сначала payload,
// затем обратный поиск по базе, затем кэш идентификаторов. Событие
// без разрешимого пользователя отбрасывается вызывающим.
func (d *Dispatcher) resolveUser(ctx context.Context, event models.ChangeEvent) (string, bool) {
	if event.UserID != "" {
		return event.UserID, true
	}

	userID, err := d.store.LookupUserIDByRecord(ctx, event.Table, event.RecordID)
	if err == nil {
		return userID, true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		d.log.Error("reverse user lookup failed",
			slog.String("table", event.Table),
			slog.Int64("record_id", event.RecordID),
			sl.Err(err))
	}

	if cached, ok := d.cachedIdentity(identityKey(event.Table, event.RecordID)); ok {
		return cached, true
	}
	return "", false
}
