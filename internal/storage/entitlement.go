package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneysplash/community-bot/internal/models"
)

// ===== EXPIRATION RECORDS =====

// GetExpiration возвращает запись об истечении подписки пользователя.
func (s *Storage) GetExpiration(ctx context.Context, userID string) (*models.ExpirationRecord, error) {
	const op = "storage.GetExpiration"

	var rec models.ExpirationRecord
	query := `SELECT id, user_id, expires_at FROM expiration_records WHERE user_id = $1`
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&rec.ID, &rec.UserID, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

// ListExpirations возвращает все записи об истечении для периодического обхода.
func (s *Storage) ListExpirations(ctx context.Context) ([]*models.ExpirationRecord, error) {
	const op = "storage.ListExpirations"

	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, expires_at FROM expiration_records`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ExpirationRecord
	for rows.Next() {
		var rec models.ExpirationRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpsertExpiration создаёт или обновляет единственную запись пользователя.
func (s *Storage) UpsertExpiration(ctx context.Context, userID string, expiresAt time.Time) error {
	const op = "storage.UpsertExpiration"

	query := `INSERT INTO expiration_records (user_id, expires_at)
			  VALUES ($1, $2)
			  ON CONFLICT (user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	if _, err := s.DB.ExecContext(ctx, query, userID, expiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteExpiration удаляет запись об истечении.
func (s *Storage) DeleteExpiration(ctx context.Context, userID string) error {
	const op = "storage.DeleteExpiration"

	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM expiration_records WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RenewFromBalance выполняет автопродление одной транзакцией: условное
// списание стоимости тарифа, продление записи об истечении и сброс
// отправленных напоминаний. ErrInsufficientBalance, если на момент
// списания средств уже не хватает.
func (s *Storage) RenewFromBalance(ctx context.Context, userID string, costCents int64, newExpiresAt time.Time) error {
	const op = "storage.RenewFromBalance"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE user_balances
		 SET balance_cents = balance_cents - $2
		 WHERE user_id = $1 AND balance_cents >= $2`,
		userID, costCents)
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO expiration_records (user_id, expires_at)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		userID, newExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications_sent WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== NOTIFICATIONS SENT =====

// WasNotified сообщает, отправлялось ли уже напоминание данного вида.
func (s *Storage) WasNotified(ctx context.Context, userID string, kind models.NotificationKind) (bool, error) {
	const op = "storage.WasNotified"

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM notifications_sent WHERE user_id = $1 AND kind = $2)`
	if err := s.DB.QueryRowContext(ctx, query, userID, string(kind)).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// MarkNotified фиксирует отправку напоминания; повторная вставка безвредна.
func (s *Storage) MarkNotified(ctx context.Context, userID string, kind models.NotificationKind) error {
	const op = "storage.MarkNotified"

	query := `INSERT INTO notifications_sent (user_id, kind, notified_at)
			  VALUES ($1, $2, now())
			  ON CONFLICT (user_id, kind) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, userID, string(kind)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ClearNotifications удаляет все отметки напоминаний пользователя,
// чтобы на следующем цикле подписки они могли отправиться снова.
func (s *Storage) ClearNotifications(ctx context.Context, userID string) error {
	const op = "storage.ClearNotifications"

	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM notifications_sent WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== PAYMENT HISTORY =====

// HasPaymentReference проверяет, обработан ли уже платёж с данной ссылкой.
func (s *Storage) HasPaymentReference(ctx context.Context, reference string) (bool, error) {
	const op = "storage.HasPaymentReference"

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payment_history WHERE reference = $1)`
	if err := s.DB.QueryRowContext(ctx, query, reference).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// ApplyPayment проводит подтверждённый платёж одной транзакцией: вставка
// строки истории, продление записи об истечении от максимума из текущего
// момента и действующей даты и сброс отправленных напоминаний. Ссылка
// платежа — дедупликатор: повторная вставка упирается в уникальный индекс
// и даёт ErrDuplicate, поэтому конкурирующие доставки одного платежа не
// могут продлить подписку дважды. Возвращает новую дату истечения.
func (s *Storage) ApplyPayment(ctx context.Context, rec models.PaymentRecord, durationDays int) (time.Time, error) {
	const op = "storage.ApplyPayment"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payment_history (user_id, reference, amount_cents, paid_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.UserID, rec.Reference, rec.AmountCents, rec.PaidAt); err != nil {
		if isUniqueViolation(err) {
			return time.Time{}, fmt.Errorf("%s: %w", op, ErrDuplicate)
		}
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	var newExpiresAt time.Time
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO expiration_records (user_id, expires_at)
		 VALUES ($1, now() + make_interval(days => $2))
		 ON CONFLICT (user_id) DO UPDATE
		 SET expires_at = GREATEST(expiration_records.expires_at, now()) + make_interval(days => $2)
		 RETURNING expires_at`,
		rec.UserID, durationDays).Scan(&newExpiresAt); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notifications_sent WHERE user_id = $1`, rec.UserID); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	return newExpiresAt, nil
}

// LastPayment возвращает последний платёж пользователя или ErrNotFound.
func (s *Storage) LastPayment(ctx context.Context, userID string) (*models.PaymentRecord, error) {
	const op = "storage.LastPayment"

	var rec models.PaymentRecord
	query := `SELECT id, user_id, reference, amount_cents, paid_at
			  FROM payment_history
			  WHERE user_id = $1
			  ORDER BY paid_at DESC
			  LIMIT 1`
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Reference, &rec.AmountCents, &rec.PaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

// ===== PENDING PAYMENT CHANNELS =====

// UpsertPendingChannel связывает пользователя с его каналом оплаты.
func (s *Storage) UpsertPendingChannel(ctx context.Context, userID, channelID string) error {
	const op = "storage.UpsertPendingChannel"

	query := `INSERT INTO pending_payment_channels (user_id, channel_id, created_at)
			  VALUES ($1, $2, now())
			  ON CONFLICT (user_id) DO UPDATE
			  SET channel_id = EXCLUDED.channel_id, created_at = now()`
	if _, err := s.DB.ExecContext(ctx, query, userID, channelID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPendingChannel возвращает канал оплаты пользователя или ErrNotFound.
func (s *Storage) GetPendingChannel(ctx context.Context, userID string) (*models.PendingPaymentChannel, error) {
	const op = "storage.GetPendingChannel"

	var rec models.PendingPaymentChannel
	query := `SELECT user_id, channel_id, created_at FROM pending_payment_channels WHERE user_id = $1`
	err := s.DB.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &rec.ChannelID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

// DeletePendingChannel снимает связь пользователя с каналом оплаты.
func (s *Storage) DeletePendingChannel(ctx context.Context, userID string) error {
	const op = "storage.DeletePendingChannel"

	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM pending_payment_channels WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== COUPONS =====

// CouponUsed проверяет, применял ли пользователь данный купон.
func (s *Storage) CouponUsed(ctx context.Context, userID, coupon string) (bool, error) {
	const op = "storage.CouponUsed"

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM coupon_usage WHERE user_id = $1 AND coupon = $2)`
	if err := s.DB.QueryRowContext(ctx, query, userID, coupon).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// InsertCouponUsage фиксирует применение купона; ErrDuplicate при повторе.
func (s *Storage) InsertCouponUsage(ctx context.Context, userID, coupon string) error {
	const op = "storage.InsertCouponUsage"

	query := `INSERT INTO coupon_usage (user_id, coupon, used_at) VALUES ($1, $2, now())`
	if _, err := s.DB.ExecContext(ctx, query, userID, coupon); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
