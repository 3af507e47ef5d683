package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
)

// notifyChannel — канал pg_notify, в который пишут триггеры миграции 000002.
const notifyChannel = "entitlement_events"

// resubscribeDelay — фиксированная пауза перед переподпиской после сбоя.
const resubscribeDelay = 10 * time.Second

// ChangeFeed слушает ленту изменений отслеживаемых таблиц через выделенное
// нативное соединение pgx. При любом сбое соединение закрывается и подписка
// устанавливается заново после фиксированной паузы, независимо от основного
// пула хранилища.
type ChangeFeed struct {
	connString string
	log        *slog.Logger
	events     chan models.ChangeEvent

	// onReset вызывается при каждой (пере)подписке; диспетчер вешает сюда
	// сброс кэша идентификаторов, который после разрыва не авторитетен.
	onReset func()
}

// NewChangeFeed создаёт ленту изменений поверх того же подключения, что и Storage.
func (s *Storage) NewChangeFeed(log *slog.Logger) *ChangeFeed {
	return &ChangeFeed{
		connString: s.connString,
		log:        log,
		events:     make(chan models.ChangeEvent, 64),
	}
}

// Events возвращает канал нормализованных событий.
func (f *ChangeFeed) Events() <-chan models.ChangeEvent {
	return f.events
}

// OnReset регистрирует обработчик (пере)подписки. Должен быть установлен
// до запуска Run.
func (f *ChangeFeed) OnReset(fn func()) {
	f.onReset = fn
}

// Run блокирует до отмены контекста, поддерживая подписку живой.
func (f *ChangeFeed) Run(ctx context.Context) {
	const op = "storage.ChangeFeed.Run"

	for {
		if err := f.listen(ctx); err != nil && ctx.Err() == nil {
			f.log.Error("change feed interrupted, resubscribing",
				sl.Op(op), sl.Err(err), slog.Duration("delay", resubscribeDelay))
		}
		select {
		case <-ctx.Done():
			close(f.events)
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.connString)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	f.log.Info("change feed subscribed", slog.String("channel", notifyChannel))
	if f.onReset != nil {
		f.onReset()
	}

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var event models.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			f.log.Warn("dropping malformed change event",
				sl.Err(err), slog.String("payload", notification.Payload))
			continue
		}

		select {
		case f.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
