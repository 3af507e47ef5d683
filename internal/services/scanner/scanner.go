// Package scanner периодически обходит записи об истечении и прогоняет
// приближающиеся к сроку через машину состояний. Обход — страховка на
// случай пропущенных событий ленты изменений: он догоняет всё, что лента
// потеряла за время разрыва.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moneysplash/community-bot/internal/lib/daysleft"
	"github.com/moneysplash/community-bot/internal/lib/sl"
	"github.com/moneysplash/community-bot/internal/models"
)

// Интервалы обхода: первый проход вскоре после старта, далее каждые 10 минут.
const (
	firstSweepDelay = time.Minute
	sweepInterval   = 10 * time.Minute
)

// Store перечисляет записи об истечении.
type Store interface {
	ListExpirations(ctx context.Context) ([]*models.ExpirationRecord, error)
}

// Engine — точка принятия решений по одной записи.
type Engine interface {
	Evaluate(ctx context.Context, userID string, expiresAt time.Time, now time.Time) error
}

// Scanner владеет жизненным циклом периодического обхода. Повторный
// Start останавливает предыдущий экземпляр: одновременно работает не
// более одного обходчика.
type Scanner struct {
	store  Store
	engine Engine
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New создаёт новый Scanner.
func New(store Store, engine Engine, log *slog.Logger) *Scanner {
	return &Scanner{store: store, engine: engine, log: log}
}

// Start запускает обход в фоне. Предыдущий запуск, если был, отменяется.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)
}

// Stop останавливает текущий обход, если он запущен.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scanner) run(ctx context.Context) {
	const op = "scanner.run"
	log := s.log.With(sl.Op(op))

	log.Info("expiration scanner started",
		slog.Duration("first_sweep", firstSweepDelay),
		slog.Duration("interval", sweepInterval))

	select {
	case <-ctx.Done():
		return
	case <-time.After(firstSweepDelay):
	}
	s.Sweep(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("expiration scanner stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход: записи с тремя и менее днями до истечения
// отдаются движку. Остальные не трогаются — для них ещё нечего решать.
func (s *Scanner) Sweep(ctx context.Context) {
	const op = "scanner.Sweep"
	log := s.log.With(sl.Op(op))

	records, err := s.store.ListExpirations(ctx)
	if err != nil {
		log.Error("failed to list expiration records", sl.Err(err))
		return
	}

	now := time.Now()
	evaluated := 0
	for _, record := range records {
		days := daysleft.Count(record.ExpiresAt, now)
		if days == daysleft.Invalid || days > 3 {
			continue
		}
		evaluated++
		if err := s.engine.Evaluate(ctx, record.UserID, record.ExpiresAt, now); err != nil {
			log.Error("failed to evaluate expiration",
				sl.User(record.UserID), sl.Err(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
	log.Info("sweep finished",
		slog.Int("records", len(records)), slog.Int("evaluated", evaluated))
}
