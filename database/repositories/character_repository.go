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

// CharacterRepository is also the escrow store for characters. Hold and
// Release run inside the caller's transaction, mirroring StackRepository.
type CharacterRepository interface {
	DB() *bun.DB
	GetByID(ctx context.Context, id int64) (*models.Character, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Character, error)
	LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Character, error)
	Hold(ctx context.Context, tx bun.Tx, characterID, tradeID int64) error
	ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error
	TransferWithTx(ctx context.Context, tx bun.Tx, id, newOwnerID int64) error
}

type characterRepository struct {
	*BaseRepository
}

func NewCharacterRepository(db *bun.DB) CharacterRepository {
	return &characterRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *characterRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *characterRepository) GetByID(ctx context.Context, id int64) (*models.Character, error) {
	character := new(models.Character)
	err := r.GetDB().NewSelect().
		Model(character).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "character", id, err)
	}
	return character, nil
}

func (r *characterRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Character, error) {
	var characters []*models.Character
	err := r.GetDB().NewSelect().
		Model(&characters).
		Where("owner_id = ? AND visible = true", ownerID).
		Order("name ASC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "character", err)
	}
	return characters, nil
}

func (r *characterRepository) LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Character, error) {
	character := new(models.Character)
	err := tx.NewSelect().
		Model(character).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "character", ID: id}
		}
		return nil, fmt.Errorf("failed to lock character: %w", err)
	}
	return character, nil
}

// Hold escrows a free character to the trade. The guarded WHERE clause
// refuses a character already held by another trade.
func (r *characterRepository) Hold(ctx context.Context, tx bun.Tx, characterID, tradeID int64) error {
	result, err := tx.NewUpdate().
		Model((*models.Character)(nil)).
		Set("holding_type = ?", models.HoldingTrade).
		Set("holding_id = ?", tradeID).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND holding_type = ''", characterID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to hold character: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read hold result: %w", err)
	}
	if affected == 0 {
		return &ConflictError{Entity: "character", Field: "holding", Value: characterID}
	}
	return nil
}

// ReleaseAllForTrade frees every character one owner has escrowed to the trade.
func (r *characterRepository) ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error {
	_, err := tx.NewUpdate().
		Model((*models.Character)(nil)).
		Set("holding_type = ''").
		Set("holding_id = 0").
		Set("updated_at = ?", time.Now()).
		Where("holding_type = ? AND holding_id = ? AND owner_id = ?", models.HoldingTrade, tradeID, ownerID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to release trade characters: %w", err)
	}
	return nil
}

// TransferWithTx hands a character to a new owner and clears its hold in one
// step. Used at settlement.
func (r *characterRepository) TransferWithTx(ctx context.Context, tx bun.Tx, id, newOwnerID int64) error {
	result, err := tx.NewUpdate().
		Model((*models.Character)(nil)).
		Set("owner_id = ?", newOwnerID).
		Set("holding_type = ''").
		Set("holding_id = 0").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to transfer character: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transfer result: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "character", ID: id}
	}
	return nil
}
