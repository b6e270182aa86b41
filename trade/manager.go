package trade

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"

	"tradepost/database/models"
	"tradepost/database/repositories"
)

// Manager is the trade lifecycle engine. Every mutating operation runs as a
// single serializable transaction that locks the trade row (and every touched
// stack, balance and character row) FOR UPDATE, so concurrent mutations of
// the same trade serialize and escrow can never settle twice. Failures are
// returned as an *ErrorList carrying every violation found; nothing is
// applied partially.
type Manager struct {
	db         *bun.DB
	trades     repositories.TradeRepository
	stacks     repositories.StackRepository
	currencies repositories.CurrencyRepository
	users      repositories.UserRepository
	characters repositories.CharacterRepository
	idGen      *IDGenerator
}

func NewManager(
	db *bun.DB,
	trades repositories.TradeRepository,
	stacks repositories.StackRepository,
	currencies repositories.CurrencyRepository,
	users repositories.UserRepository,
	characters repositories.CharacterRepository,
) *Manager {
	if db == nil {
		panic("trade manager: db cannot be nil")
	}
	return &Manager{
		db:         db,
		trades:     trades,
		stacks:     stacks,
		currencies: currencies,
		users:      users,
		characters: characters,
		idGen:      NewIDGenerator(trades),
	}
}

func (m *Manager) beginTx(ctx context.Context) (bun.Tx, error) {
	return m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// CreateTrade validates the actor's opening offer, escrows it and persists a
// new open trade. Every violated precondition is reported together.
func (m *Manager) CreateTrade(ctx context.Context, req Request, actor Actor) (*models.Trade, error) {
	t, err := m.createTrade(ctx, req, actor)
	return t, asConflict(err)
}

func (m *Manager) createTrade(ctx context.Context, req Request, actor Actor) (*models.Trade, error) {
	errs := validateShape(req)

	if req.RecipientID == actor.ID {
		errs.Add(ClassValidation, "You cannot open a trade with yourself.")
	}

	recipient, err := m.users.GetByID(ctx, req.RecipientID)
	if err != nil {
		if repositories.IsNotFound(err) {
			errs.Add(ClassNotFound, "The selected recipient does not exist.")
		} else {
			return nil, fmt.Errorf("failed to load recipient: %w", err)
		}
	} else if !recipient.Visible || recipient.Banned {
		errs.Add(ClassValidation, "The selected recipient cannot receive trades.")
	}

	tradeID, err := m.idGen.Generate(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := m.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	trade := &models.Trade{
		TradeID:     tradeID,
		SenderID:    actor.ID,
		RecipientID: req.RecipientID,
		Status:      models.TradeOpen,
		Comments:    req.Comments,
	}
	trade.Data.SetSide(models.SideSender, req.Offer())

	if verrs := m.validateOfferAssets(ctx, tx, req, actor, 0); verrs.HasErrors() {
		errs.Append(verrs)
	}
	if errs.HasErrors() {
		return nil, errs
	}

	if err := m.trades.CreateWithTx(ctx, tx, trade); err != nil {
		return nil, err
	}
	if err := m.escrowOffer(ctx, tx, trade.ID, req, actor); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return trade, nil
}

// EditTrade replaces the actor's side of an open trade. The previous escrow
// is returned first, the new offer is validated and escrowed exactly as at
// creation, and both confirmation flags reset. All inside one transaction:
// a failed validation rolls the releases back too.
func (m *Manager) EditTrade(ctx context.Context, tradeID string, req Request, actor Actor) (*models.Trade, error) {
	t, err := m.editTrade(ctx, tradeID, req, actor)
	return t, asConflict(err)
}

func (m *Manager) editTrade(ctx context.Context, tradeID string, req Request, actor Actor) (*models.Trade, error) {
	errs := validateShape(req)

	existing, err := m.trades.GetByTradeID(ctx, tradeID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, notFound("Trade %s does not exist.", tradeID)
		}
		return nil, fmt.Errorf("failed to load trade: %w", err)
	}

	tx, err := m.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	trade, err := m.trades.LockForUpdate(ctx, tx, existing.ID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, notFound("Trade %s does not exist.", tradeID)
		}
		return nil, err
	}
	if merrs := checkMutable(trade, actor); merrs != nil {
		return nil, merrs
	}

	side, _ := trade.SideOf(actor.ID)
	previous := trade.Data.Side(side)

	if err := m.releaseOffer(ctx, tx, trade.ID, actor.ID, previous); err != nil {
		return nil, err
	}

	if verrs := m.validateOfferAssets(ctx, tx, req, actor, trade.ID); verrs.HasErrors() {
		errs.Append(verrs)
	}
	if errs.HasErrors() {
		return nil, errs
	}

	if err := m.escrowOffer(ctx, tx, trade.ID, req, actor); err != nil {
		return nil, err
	}

	trade.Data.SetSide(side, req.Offer())
	trade.Comments = req.Comments
	trade.ResetConfirmations()

	if err := m.trades.UpdateWithTx(ctx, tx, trade); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return trade, nil
}

// ConfirmOffer toggles the actor's own confirmation flag: confirming an
// already-confirmed offer withdraws the confirmation. The other party's flag
// is never touched.
func (m *Manager) ConfirmOffer(ctx context.Context, tradeID string, actor Actor) (*models.Trade, error) {
	return m.withLockedTrade(ctx, tradeID, func(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
		if errs := checkMutable(trade, actor); errs != nil {
			return errs
		}

		side, _ := trade.SideOf(actor.ID)
		if side == models.SideSender {
			trade.SenderConfirmed = !trade.SenderConfirmed
		} else {
			trade.RecipientConfirmed = !trade.RecipientConfirmed
		}

		return m.trades.UpdateWithTx(ctx, tx, trade)
	})
}

// ConfirmTrade performs the terminal settlement. Both confirmation flags are
// read under the same lock as the transition they gate: of two concurrent
// calls on a fully-confirmed trade, exactly one settles and the other finds
// the trade closed.
func (m *Manager) ConfirmTrade(ctx context.Context, tradeID string, actor Actor) (*models.Trade, error) {
	return m.withLockedTrade(ctx, tradeID, func(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
		if errs := checkSettleable(trade, actor); errs != nil {
			return errs
		}

		if err := m.settleSide(ctx, tx, trade, models.SideSender); err != nil {
			return err
		}
		if err := m.settleSide(ctx, tx, trade, models.SideRecipient); err != nil {
			return err
		}

		trade.Status = models.TradeCompleted
		return m.trades.UpdateWithTx(ctx, tx, trade)
	})
}

// CancelTrade closes an open trade and returns every escrowed stack and
// reserved amount to its original owner, regardless of confirmation state.
// A repeated cancel finds the trade closed and fails with a conflict.
func (m *Manager) CancelTrade(ctx context.Context, tradeID string, actor Actor) (*models.Trade, error) {
	return m.withLockedTrade(ctx, tradeID, func(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
		if errs := checkMutable(trade, actor); errs != nil {
			return errs
		}

		if err := m.revertEscrow(ctx, tx, trade); err != nil {
			return err
		}

		trade.Status = models.TradeCanceled
		return m.trades.UpdateWithTx(ctx, tx, trade)
	})
}

// RejectTrade is the moderator's terminal transition: like a cancel, but it
// records the closure as a rejection and does not require party membership.
func (m *Manager) RejectTrade(ctx context.Context, tradeID string, actor Actor) (*models.Trade, error) {
	return m.withLockedTrade(ctx, tradeID, func(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
		if !actor.ManageTrades {
			return forbidden("You do not have permission to reject trades.")
		}
		if !trade.IsOpen() {
			return conflict("This trade is no longer open.")
		}

		if err := m.revertEscrow(ctx, tx, trade); err != nil {
			return err
		}

		trade.Status = models.TradeRejected
		return m.trades.UpdateWithTx(ctx, tx, trade)
	})
}

// withLockedTrade resolves the public trade ID, then runs fn against the row
// locked FOR UPDATE inside a serializable transaction. A serialization abort
// from the database surfaces as a Conflict.
func (m *Manager) withLockedTrade(ctx context.Context, tradeID string, fn func(context.Context, bun.Tx, *models.Trade) error) (*models.Trade, error) {
	t, err := m.runLocked(ctx, tradeID, fn)
	return t, asConflict(err)
}

func (m *Manager) runLocked(ctx context.Context, tradeID string, fn func(context.Context, bun.Tx, *models.Trade) error) (*models.Trade, error) {
	existing, err := m.trades.GetByTradeID(ctx, tradeID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, notFound("Trade %s does not exist.", tradeID)
		}
		return nil, fmt.Errorf("failed to load trade: %w", err)
	}

	tx, err := m.beginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	trade, err := m.trades.LockForUpdate(ctx, tx, existing.ID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, notFound("Trade %s does not exist.", tradeID)
		}
		return nil, err
	}

	if err := fn(ctx, tx, trade); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return trade, nil
}

// validateOfferAssets checks the storage-backed preconditions of an offer
// under row locks: stack existence, ownership and freeness, currency
// existence and affordability, character ownership and tradeability. Every
// violation is collected. editingTradeID is the trade whose own holds count
// as free (zero at creation).
func (m *Manager) validateOfferAssets(ctx context.Context, tx bun.Tx, req Request, actor Actor, editingTradeID int64) *ErrorList {
	errs := &ErrorList{}

	locked, err := m.stacks.LockForUpdate(ctx, tx, req.StackIDs)
	if err != nil {
		errs.Add(ClassValidation, "Could not verify the offered items.")
		return errs
	}
	byID := make(map[int64]*models.ItemStack, len(locked))
	for _, stack := range locked {
		byID[stack.ID] = stack
	}
	for _, id := range req.StackIDs {
		stack, ok := byID[id]
		if !ok {
			errs.Add(ClassNotFound, "Item stack %d does not exist.", id)
			continue
		}
		if stack.OwnerID != actor.ID {
			errs.Add(ClassValidation, "Item stack %d does not belong to you.", id)
			continue
		}
		if !stack.IsFree() && !(editingTradeID != 0 && stack.HeldBy(editingTradeID)) {
			errs.Add(ClassValidation, "Item stack %d is already committed to another trade.", id)
		}
	}

	if req.CurrencyID != "" {
		if _, err := m.currencies.GetCurrency(ctx, req.CurrencyID); err != nil {
			if repositories.IsNotFound(err) {
				errs.Add(ClassNotFound, "Currency %s does not exist.", req.CurrencyID)
			} else {
				errs.Add(ClassValidation, "Could not verify the offered currency.")
			}
		} else if req.CurrencyQuantity > 0 {
			balance, err := m.currencies.LockBalance(ctx, tx, actor.ID, req.CurrencyID)
			if err != nil {
				errs.Add(ClassValidation, "Could not verify your currency balance.")
			} else if balance.Available() < req.CurrencyQuantity {
				errs.Add(ClassValidation, "You do not have %d %s available.", req.CurrencyQuantity, req.CurrencyID)
			}
		}
	}

	if req.CharacterID != 0 {
		character, err := m.characters.LockForUpdate(ctx, tx, req.CharacterID)
		if err != nil {
			if repositories.IsNotFound(err) {
				errs.Add(ClassNotFound, "Character %d does not exist.", req.CharacterID)
			} else {
				errs.Add(ClassValidation, "Could not verify the offered character.")
			}
		} else {
			if character.OwnerID != actor.ID {
				errs.Add(ClassValidation, "Character %s does not belong to you.", character.Name)
			}
			if !character.Tradeable {
				errs.Add(ClassValidation, "Character %s cannot be traded.", character.Name)
			}
			if !character.IsFree() && !(editingTradeID != 0 && character.HeldBy(editingTradeID)) {
				errs.Add(ClassValidation, "Character %s is already committed to another trade.", character.Name)
			}
		}
	}

	return errs
}

// escrowOffer places the validated offer into escrow: item and character
// holds plus a currency reservation. Runs after validateOfferAssets under the
// same locks.
func (m *Manager) escrowOffer(ctx context.Context, tx bun.Tx, tradeID int64, req Request, actor Actor) error {
	for _, stackID := range req.StackIDs {
		if err := m.stacks.Hold(ctx, tx, stackID, tradeID); err != nil {
			return err
		}
	}
	if req.CurrencyQuantity > 0 {
		if err := m.currencies.Reserve(ctx, tx, actor.ID, req.CurrencyID, req.CurrencyQuantity); err != nil {
			return err
		}
	}
	if req.CharacterID != 0 {
		if err := m.characters.Hold(ctx, tx, req.CharacterID, tradeID); err != nil {
			return err
		}
	}
	return nil
}

// releaseOffer returns one party's escrowed assets to their free inventory.
func (m *Manager) releaseOffer(ctx context.Context, tx bun.Tx, tradeID, ownerID int64, offer models.Offer) error {
	if err := m.stacks.ReleaseAllForTrade(ctx, tx, tradeID, ownerID); err != nil {
		return err
	}
	if err := m.characters.ReleaseAllForTrade(ctx, tx, tradeID, ownerID); err != nil {
		return err
	}
	if offer.CurrencyQuantity > 0 {
		if err := m.currencies.ReleaseReserve(ctx, tx, ownerID, offer.CurrencyID, offer.CurrencyQuantity); err != nil {
			return err
		}
	}
	return nil
}

// revertEscrow returns both sides' escrowed assets to their original owners.
func (m *Manager) revertEscrow(ctx context.Context, tx bun.Tx, trade *models.Trade) error {
	if err := m.releaseOffer(ctx, tx, trade.ID, trade.SenderID, trade.Data.Sender); err != nil {
		return err
	}
	return m.releaseOffer(ctx, tx, trade.ID, trade.RecipientID, trade.Data.Recipient)
}

// settleSide delivers one side's offer to the counter-party: escrowed stacks
// change owner, reserved currency is debited from the offerer and credited
// to the counter-party, and an offered character transfers.
func (m *Manager) settleSide(ctx context.Context, tx bun.Tx, trade *models.Trade, side models.TradeSide) error {
	offer := trade.Data.Side(side)
	var ownerID, counterID int64
	if side == models.SideSender {
		ownerID, counterID = trade.SenderID, trade.RecipientID
	} else {
		ownerID, counterID = trade.RecipientID, trade.SenderID
	}

	locked, err := m.stacks.LockForUpdate(ctx, tx, offer.StackIDs)
	if err != nil {
		return err
	}
	byID := make(map[int64]*models.ItemStack, len(locked))
	for _, stack := range locked {
		byID[stack.ID] = stack
	}
	for _, stackID := range offer.StackIDs {
		stack, ok := byID[stackID]
		if !ok || !stack.HeldBy(trade.ID) || stack.OwnerID != ownerID {
			return conflict("Item stack %d is no longer escrowed to this trade.", stackID)
		}
		if err := m.stacks.Transfer(ctx, tx, stackID, counterID); err != nil {
			return err
		}
	}

	if offer.CurrencyQuantity > 0 {
		if err := m.currencies.SettleReserve(ctx, tx, ownerID, counterID, offer.CurrencyID, offer.CurrencyQuantity); err != nil {
			return err
		}
	}

	if offer.CharacterID != 0 {
		character, err := m.characters.LockForUpdate(ctx, tx, offer.CharacterID)
		if err != nil {
			return err
		}
		if character.OwnerID != ownerID || !character.HeldBy(trade.ID) {
			return conflict("Character %d is no longer escrowed to this trade.", offer.CharacterID)
		}
		if err := m.characters.TransferWithTx(ctx, tx, offer.CharacterID, counterID); err != nil {
			return err
		}
	}

	return nil
}
