// Package storage реализует хранилище бота на основе PostgreSQL:
// восемь коллекций записей (пользователи, балансы, тарифы, ожидающие
// оплату каналы, записи об истечении, отправленные напоминания,
// история платежей, использование купонов) и ленту изменений.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/moneysplash/community-bot/internal/models"
)

// Ошибки-сигналы хранилища; вызывающие стороны различают их через errors.Is.
var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("record already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const uniqueViolation = "23505"

// Storage инкапсулирует соединение с PostgreSQL.
type Storage struct {
	DB *sql.DB

	// Строка подключения сохраняется для ленты изменений,
	// которой нужно отдельное нативное соединение pgx.
	connString string
}

// New создаёт подключение к PostgreSQL и проверяет его доступность.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{DB: db, connString: storageConnectionString}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ===== REGISTERED USERS =====

// CreateUser регистрирует нового пользователя; ErrDuplicate при повторе user_id.
func (s *Storage) CreateUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.CreateUser"

	query := `INSERT INTO registered_users (user_id, name, whatsapp, registered_at)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		user.UserID, user.Name, user.Whatsapp, user.RegisteredAt).Scan(&newID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", op, ErrDuplicate)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetUser возвращает зарегистрированного пользователя по идентификатору платформы.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUser"

	query := `SELECT id, user_id, name, whatsapp, registered_at
			  FROM registered_users WHERE user_id = $1`
	var u models.User
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&u.ID, &u.UserID, &u.Name, &u.Whatsapp, &u.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

// LookupUserIDByRecord разрешает user_id по внутреннему идентификатору строки
// одной из отслеживаемых таблиц. Запасной путь для событий ленты изменений,
// в payload которых идентификатор участника отсутствует.
func (s *Storage) LookupUserIDByRecord(ctx context.Context, table string, recordID int64) (string, error) {
	const op = "storage.LookupUserIDByRecord"

	var query string
	switch table {
	case models.TableExpirations:
		query = `SELECT user_id FROM expiration_records WHERE id = $1`
	case models.TableUsers:
		query = `SELECT user_id FROM registered_users WHERE id = $1`
	default:
		return "", fmt.Errorf("%s: unknown table %q", op, table)
	}

	var userID string
	err := s.DB.QueryRowContext(ctx, query, recordID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}

// ===== BALANCES =====

// EnsureBalance создаёт нулевой баланс, если записи ещё нет.
func (s *Storage) EnsureBalance(ctx context.Context, userID string) error {
	const op = "storage.EnsureBalance"

	query := `INSERT INTO user_balances (user_id, balance_cents)
			  VALUES ($1, 0)
			  ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetBalance возвращает бонусный баланс в сентаво; 0 для отсутствующей записи.
func (s *Storage) GetBalance(ctx context.Context, userID string) (int64, error) {
	const op = "storage.GetBalance"

	var balance int64
	query := `SELECT balance_cents FROM user_balances WHERE user_id = $1`
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// IncrementBalance атомарно увеличивает баланс, создавая запись при необходимости.
func (s *Storage) IncrementBalance(ctx context.Context, userID string, amountCents int64) error {
	const op = "storage.IncrementBalance"

	query := `INSERT INTO user_balances (user_id, balance_cents)
			  VALUES ($1, $2)
			  ON CONFLICT (user_id) DO UPDATE
			  SET balance_cents = user_balances.balance_cents + EXCLUDED.balance_cents`
	if _, err := s.DB.ExecContext(ctx, query, userID, amountCents); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DecrementBalance атомарно списывает сумму; условие в WHERE гарантирует,
// что конкурирующий писатель не уведёт баланс ниже нуля.
func (s *Storage) DecrementBalance(ctx context.Context, userID string, amountCents int64) error {
	const op = "storage.DecrementBalance"

	query := `UPDATE user_balances
			  SET balance_cents = balance_cents - $2
			  WHERE user_id = $1 AND balance_cents >= $2`
	result, err := s.DB.ExecContext(ctx, query, userID, amountCents)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrInsufficientBalance)
	}
	return nil
}

// ===== PLAN PRICES =====

// UpsertPlanPrice синхронизирует тариф с конфигурацией при старте.
func (s *Storage) UpsertPlanPrice(ctx context.Context, plan models.PlanPrice) error {
	const op = "storage.UpsertPlanPrice"

	query := `INSERT INTO plan_prices (code, price_cents, duration_days)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (code) DO UPDATE
			  SET price_cents = EXCLUDED.price_cents,
				  duration_days = EXCLUDED.duration_days`
	if _, err := s.DB.ExecContext(ctx, query, plan.Code, plan.PriceCents, plan.DurationDays); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPlanPrice возвращает тариф по коду.
func (s *Storage) GetPlanPrice(ctx context.Context, code string) (*models.PlanPrice, error) {
	const op = "storage.GetPlanPrice"

	var p models.PlanPrice
	query := `SELECT code, price_cents, duration_days FROM plan_prices WHERE code = $1`
	err := s.DB.QueryRowContext(ctx, query, code).Scan(&p.Code, &p.PriceCents, &p.DurationDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}
