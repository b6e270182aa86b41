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

type TradeRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, trade *models.Trade) error
	CreateWithTx(ctx context.Context, tx bun.Tx, trade *models.Trade) error
	GetByID(ctx context.Context, id int64) (*models.Trade, error)
	GetByTradeID(ctx context.Context, tradeID string) (*models.Trade, error)
	GetUserTrades(ctx context.Context, userID int64, status models.TradeStatus, page, perPage int) ([]*models.Trade, int, error)
	TradeIDExists(ctx context.Context, tradeID string) (bool, error)
	LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Trade, error)
	UpdateWithTx(ctx context.Context, tx bun.Tx, trade *models.Trade) error
}

type tradeRepository struct {
	*BaseRepository
}

func NewTradeRepository(db *bun.DB) TradeRepository {
	return &tradeRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *tradeRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *tradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	trade.CreatedAt = time.Now()
	trade.UpdatedAt = time.Now()

	_, err := r.GetDB().NewInsert().Model(trade).Exec(ctx)
	return r.HandleError("create", "trade", err)
}

func (r *tradeRepository) CreateWithTx(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
	trade.CreatedAt = time.Now()
	trade.UpdatedAt = time.Now()

	_, err := tx.NewInsert().Model(trade).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (r *tradeRepository) GetByID(ctx context.Context, id int64) (*models.Trade, error) {
	trade := new(models.Trade)
	err := r.GetDB().NewSelect().
		Model(trade).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "trade", id, err)
	}
	return trade, nil
}

func (r *tradeRepository) GetByTradeID(ctx context.Context, tradeID string) (*models.Trade, error) {
	trade := new(models.Trade)
	err := r.GetDB().NewSelect().
		Model(trade).
		Where("trade_id = ?", tradeID).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "trade", tradeID, err)
	}
	return trade, nil
}

// GetUserTrades returns the user's trades in the given status, newest first.
func (r *tradeRepository) GetUserTrades(ctx context.Context, userID int64, status models.TradeStatus, page, perPage int) ([]*models.Trade, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var trades []*models.Trade
	query := r.GetDB().NewSelect().
		Model(&trades).
		Where("(sender_id = ? OR recipient_id = ?)", userID, userID).
		Where("status = ?", status)

	total, err := query.Count(ctx)
	if err != nil {
		return nil, 0, r.HandleError("count", "trade", err)
	}

	err = query.
		Order("id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Scan(ctx)

	if err != nil {
		return nil, 0, r.HandleError("list", "trade", err)
	}
	return trades, total, nil
}

func (r *tradeRepository) TradeIDExists(ctx context.Context, tradeID string) (bool, error) {
	exists, err := r.GetDB().NewSelect().
		Model((*models.Trade)(nil)).
		Where("trade_id = ?", tradeID).
		Exists(ctx)

	return exists, r.HandleError("exists", "trade", err)
}

// LockForUpdate loads the trade row under FOR UPDATE within the transaction.
// Every mutating lifecycle operation goes through this lock so concurrent
// mutations of the same trade serialize.
func (r *tradeRepository) LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Trade, error) {
	trade := new(models.Trade)
	err := tx.NewSelect().
		Model(trade).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "trade", ID: id}
		}
		return nil, fmt.Errorf("failed to lock trade: %w", err)
	}
	return trade, nil
}

func (r *tradeRepository) UpdateWithTx(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
	trade.UpdatedAt = time.Now()

	_, err := tx.NewUpdate().
		Model(trade).
		WherePK().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	return nil
}
