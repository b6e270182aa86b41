package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"tradepost/database/models"
)

// CurrencyRepository manages currency definitions and per-user balances with
// their reserved-amount counters. Reserve/settle operations run inside the
// caller's transaction, alongside the owning trade's status change.
type CurrencyRepository interface {
	DB() *bun.DB
	GetCurrency(ctx context.Context, id string) (*models.Currency, error)
	ListCurrencies(ctx context.Context) ([]*models.Currency, error)
	GetBalance(ctx context.Context, userID int64, currencyID string) (*models.UserCurrency, error)
	LockBalance(ctx context.Context, tx bun.Tx, userID int64, currencyID string) (*models.UserCurrency, error)
	Reserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error
	ReleaseReserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error
	SettleReserve(ctx context.Context, tx bun.Tx, fromUserID, toUserID int64, currencyID string, amount int64) error
}

type currencyRepository struct {
	*BaseRepository
}

func NewCurrencyRepository(db *bun.DB) CurrencyRepository {
	return &currencyRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *currencyRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *currencyRepository) GetCurrency(ctx context.Context, id string) (*models.Currency, error) {
	currency := new(models.Currency)
	err := r.GetDB().NewSelect().
		Model(currency).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "currency", id, err)
	}
	return currency, nil
}

func (r *currencyRepository) ListCurrencies(ctx context.Context) ([]*models.Currency, error) {
	var currencies []*models.Currency
	err := r.GetDB().NewSelect().
		Model(&currencies).
		Order("name ASC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "currency", err)
	}
	return currencies, nil
}

func (r *currencyRepository) GetBalance(ctx context.Context, userID int64, currencyID string) (*models.UserCurrency, error) {
	balance := new(models.UserCurrency)
	err := r.GetDB().NewSelect().
		Model(balance).
		Where("user_id = ? AND currency_id = ?", userID, currencyID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No row means a zero balance, not an error.
			return &models.UserCurrency{UserID: userID, CurrencyID: currencyID}, nil
		}
		return nil, r.HandleError("get", "user currency", err)
	}
	return balance, nil
}

// LockBalance loads the (user, currency) row under FOR UPDATE. A missing row
// is returned as a zero balance without a lock; callers that then reserve
// against it will fail the guarded update instead.
func (r *currencyRepository) LockBalance(ctx context.Context, tx bun.Tx, userID int64, currencyID string) (*models.UserCurrency, error) {
	balance := new(models.UserCurrency)
	err := tx.NewSelect().
		Model(balance).
		Where("user_id = ? AND currency_id = ?", userID, currencyID).
		For("UPDATE").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.UserCurrency{UserID: userID, CurrencyID: currencyID}, nil
		}
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

// Reserve commits part of the spendable balance to a trade. The guarded WHERE
// clause enforces balance - reserved >= amount atomically.
func (r *currencyRepository) Reserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	result, err := tx.NewUpdate().
		Model((*models.UserCurrency)(nil)).
		Set("reserved = reserved + ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ? AND currency_id = ? AND balance - reserved >= ?", userID, currencyID, amount).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to reserve currency: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reserve result: %w", err)
	}
	if affected == 0 {
		return &ConflictError{Entity: "user currency", Field: "available balance", Value: amount}
	}
	return nil
}

// ReleaseReserve returns reserved funds to the spendable balance.
func (r *currencyRepository) ReleaseReserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	result, err := tx.NewUpdate().
		Model((*models.UserCurrency)(nil)).
		Set("reserved = reserved - ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ? AND currency_id = ? AND reserved >= ?", userID, currencyID, amount).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to release reserve: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read release result: %w", err)
	}
	if affected == 0 {
		return &ConflictError{Entity: "user currency", Field: "reserved", Value: amount}
	}
	return nil
}

// SettleReserve moves reserved funds from one user to another at completion:
// the reservation and balance are debited from the payer and the payee is
// credited, creating their balance row if needed.
func (r *currencyRepository) SettleReserve(ctx context.Context, tx bun.Tx, fromUserID, toUserID int64, currencyID string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	result, err := tx.NewUpdate().
		Model((*models.UserCurrency)(nil)).
		Set("balance = balance - ?", amount).
		Set("reserved = reserved - ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ? AND currency_id = ? AND reserved >= ? AND balance >= ?",
			fromUserID, currencyID, amount, amount).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to debit currency: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		return &ConflictError{Entity: "user currency", Field: "reserved", Value: amount}
	}

	credit := &models.UserCurrency{
		UserID:     toUserID,
		CurrencyID: currencyID,
		Balance:    amount,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	_, err = tx.NewInsert().
		Model(credit).
		On("CONFLICT (user_id, currency_id) DO UPDATE").
		Set("balance = uc.balance + EXCLUDED.balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to credit currency: %w", err)
	}
	return nil
}
