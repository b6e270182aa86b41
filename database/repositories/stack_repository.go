package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"tradepost/database/models"
)

// StackRepository is the escrow store for item stacks. Hold, Release and
// Transfer run inside the caller's transaction so a stack's escrow state only
// ever changes together with the owning trade's status.
type StackRepository interface {
	DB() *bun.DB
	GetByID(ctx context.Context, id int64) (*models.ItemStack, error)
	GetFreeInventory(ctx context.Context, ownerID int64) ([]*models.ItemStack, error)
	GetEditableInventory(ctx context.Context, ownerID, tradeID int64) ([]*models.ItemStack, error)
	GetHeldByTrade(ctx context.Context, tradeID int64) ([]*models.ItemStack, error)
	LockForUpdate(ctx context.Context, tx bun.Tx, ids []int64) ([]*models.ItemStack, error)
	Hold(ctx context.Context, tx bun.Tx, stackID, tradeID int64) error
	Release(ctx context.Context, tx bun.Tx, stackID int64) error
	ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error
	Transfer(ctx context.Context, tx bun.Tx, stackID, newOwnerID int64) error
}

type stackRepository struct {
	*BaseRepository
}

func NewStackRepository(db *bun.DB) StackRepository {
	return &stackRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *stackRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *stackRepository) GetByID(ctx context.Context, id int64) (*models.ItemStack, error) {
	stack := new(models.ItemStack)
	err := r.GetDB().NewSelect().
		Model(stack).
		Relation("Item").
		Where("s.id = ?", id).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "item stack", id, err)
	}
	return stack, nil
}

// GetFreeInventory returns the owner's stacks that are not escrowed anywhere.
func (r *stackRepository) GetFreeInventory(ctx context.Context, ownerID int64) ([]*models.ItemStack, error) {
	var stacks []*models.ItemStack
	err := r.GetDB().NewSelect().
		Model(&stacks).
		Relation("Item").
		Where("s.owner_id = ?", ownerID).
		Where("s.holding_type = ''").
		Order("s.obtained_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "item stack", err)
	}
	return stacks, nil
}

// GetEditableInventory returns the stacks the owner can put into the given
// trade while editing it: free stacks plus those already held by that trade.
func (r *stackRepository) GetEditableInventory(ctx context.Context, ownerID, tradeID int64) ([]*models.ItemStack, error) {
	var stacks []*models.ItemStack
	err := r.GetDB().NewSelect().
		Model(&stacks).
		Relation("Item").
		Where("s.owner_id = ?", ownerID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("s.holding_type = ''").
				WhereOr("(s.holding_type = ? AND s.holding_id = ?)", models.HoldingTrade, tradeID)
		}).
		Order("s.obtained_at DESC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "item stack", err)
	}
	return stacks, nil
}

func (r *stackRepository) GetHeldByTrade(ctx context.Context, tradeID int64) ([]*models.ItemStack, error) {
	var stacks []*models.ItemStack
	err := r.GetDB().NewSelect().
		Model(&stacks).
		Relation("Item").
		Where("s.holding_type = ? AND s.holding_id = ?", models.HoldingTrade, tradeID).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "item stack", err)
	}
	return stacks, nil
}

// LockForUpdate loads the given stacks under FOR UPDATE. The caller must
// check that every requested id came back; missing rows mean the stack does
// not exist.
func (r *stackRepository) LockForUpdate(ctx context.Context, tx bun.Tx, ids []int64) ([]*models.ItemStack, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var stacks []*models.ItemStack
	err := tx.NewSelect().
		Model(&stacks).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		For("UPDATE").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to lock item stacks: %w", err)
	}
	return stacks, nil
}

// Hold escrows a free stack to the trade. Holding is mutually exclusive: the
// guarded WHERE clause refuses a stack already held elsewhere.
func (r *stackRepository) Hold(ctx context.Context, tx bun.Tx, stackID, tradeID int64) error {
	result, err := tx.NewUpdate().
		Model((*models.ItemStack)(nil)).
		Set("holding_type = ?", models.HoldingTrade).
		Set("holding_id = ?", tradeID).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND holding_type = ''", stackID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to hold stack: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read hold result: %w", err)
	}
	if affected == 0 {
		return &ConflictError{Entity: "item stack", Field: "holding", Value: stackID}
	}
	return nil
}

// Release returns a held stack to its owner's free inventory.
func (r *stackRepository) Release(ctx context.Context, tx bun.Tx, stackID int64) error {
	result, err := tx.NewUpdate().
		Model((*models.ItemStack)(nil)).
		Set("holding_type = ''").
		Set("holding_id = 0").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", stackID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to release stack: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read release result: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "item stack", ID: stackID}
	}
	return nil
}

// ReleaseAllForTrade frees every stack one owner has escrowed to the trade.
func (r *stackRepository) ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error {
	_, err := tx.NewUpdate().
		Model((*models.ItemStack)(nil)).
		Set("holding_type = ''").
		Set("holding_id = 0").
		Set("updated_at = ?", time.Now()).
		Where("holding_type = ? AND holding_id = ? AND owner_id = ?", models.HoldingTrade, tradeID, ownerID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to release trade stacks: %w", err)
	}
	return nil
}

// Transfer hands a stack to a new owner and clears its hold in one step.
// Used at settlement, when the escrowed stack moves to the counter-party.
func (r *stackRepository) Transfer(ctx context.Context, tx bun.Tx, stackID, newOwnerID int64) error {
	result, err := tx.NewUpdate().
		Model((*models.ItemStack)(nil)).
		Set("owner_id = ?", newOwnerID).
		Set("holding_type = ''").
		Set("holding_id = 0").
		Set("obtained_at = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", stackID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to transfer stack: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transfer result: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Entity: "item stack", ID: stackID}
	}
	return nil
}
