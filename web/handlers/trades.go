package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"tradepost/database/models"
	"tradepost/database/repositories"
	"tradepost/logger"
	"tradepost/trade"
	"tradepost/web/utils"
)

// PartyRef identifies one trade participant in a payload.
type PartyRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TradeSummary is one row of the trade listing.
type TradeSummary struct {
	TradeID            string             `json:"trade_id"`
	URL                string             `json:"url"`
	Status             models.TradeStatus `json:"status"`
	Partner            PartyRef           `json:"partner"`
	SenderConfirmed    bool               `json:"sender_confirmed"`
	RecipientConfirmed bool               `json:"recipient_confirmed"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// SidePayload is one party's half of a trade with its assets resolved for
// display: escrowed stacks with their item rows, the currency definition and
// the offered character.
type SidePayload struct {
	Party     PartyRef            `json:"party"`
	Confirmed bool                `json:"confirmed"`
	Offer     models.Offer        `json:"offer"`
	Stacks    []*models.ItemStack `json:"stacks,omitempty"`
	Currency  *models.Currency    `json:"currency,omitempty"`
	Character *models.Character   `json:"character,omitempty"`
}

// TradeDetail is the full trade view.
type TradeDetail struct {
	TradeID   string             `json:"trade_id"`
	URL       string             `json:"url"`
	Status    models.TradeStatus `json:"status"`
	Comments  string             `json:"comments,omitempty"`
	Sender    SidePayload        `json:"sender"`
	Recipient SidePayload        `json:"recipient"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// OfferContext carries everything a client needs to compose an offer: the
// committable inventory, currency balances and tradeable characters.
type OfferContext struct {
	Stacks     []*models.ItemStack `json:"stacks"`
	Currencies []*CurrencyBalance  `json:"currencies"`
	Characters []*models.Character `json:"characters"`
	Recipients []PartyRef          `json:"recipients,omitempty"`
}

type CurrencyBalance struct {
	Currency  *models.Currency `json:"currency"`
	Balance   int64            `json:"balance"`
	Reserved  int64            `json:"reserved"`
	Available int64            `json:"available"`
}

// ListTrades returns the actor's trades in one status, paginated.
// GET /api/trades?status=open&page=1&limit=20
func (w *WebApp) ListTrades(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	status := models.TradeStatus(c.Query("status", string(models.TradeOpen)))
	switch status {
	case models.TradeOpen, models.TradeCompleted, models.TradeCanceled, models.TradeRejected:
	default:
		return utils.SendBadRequest(c, "Unknown trade status")
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	trades, total, err := w.Trades.GetUserTrades(c.Context(), actor.ID, status, page, limit)
	if err != nil {
		return sendOperationError(c, "list", err)
	}

	summaries := make([]*TradeSummary, 0, len(trades))
	for _, t := range trades {
		partner, err := w.partyRef(c.Context(), t.PartnerID(actor.ID))
		if err != nil {
			return sendOperationError(c, "list", err)
		}
		summaries = append(summaries, &TradeSummary{
			TradeID:            t.TradeID,
			URL:                t.URL(),
			Status:             t.Status,
			Partner:            partner,
			SenderConfirmed:    t.SenderConfirmed,
			RecipientConfirmed: t.RecipientConfirmed,
			CreatedAt:          t.CreatedAt,
			UpdatedAt:          t.UpdatedAt,
		})
	}

	pagination := buildPagination(page, limit, total)
	return utils.SendPaginated(c, summaries, pagination, "Trades retrieved")
}

// GetTrade returns the full trade view with both sides' assets resolved.
// GET /api/trades/:id
func (w *WebApp) GetTrade(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	t, err := w.Trades.GetByTradeID(c.Context(), c.Params("id"))
	if err != nil {
		return sendOperationError(c, "get", err)
	}
	if !actor.CanView(t.SenderID, t.RecipientID, t.Status == models.TradeCompleted) {
		return utils.SendForbidden(c, "You are not a party to this trade")
	}

	detail, err := w.buildDetail(c.Context(), t)
	if err != nil {
		return sendOperationError(c, "get", err)
	}
	return utils.SendSuccess(c, detail, "Trade retrieved")
}

// NewTradeContext returns the actor's committable assets for composing an
// opening offer.
// GET /api/trades/new
func (w *WebApp) NewTradeContext(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	stacks, err := w.Stacks.GetFreeInventory(c.Context(), actor.ID)
	if err != nil {
		return sendOperationError(c, "new", err)
	}
	offerCtx, err := w.buildOfferContext(c.Context(), actor.ID, 0, stacks)
	if err != nil {
		return sendOperationError(c, "new", err)
	}

	recipients, err := w.Directory.SearchRecipients(c.Context(), "", actor.ID, 50)
	if err != nil {
		return sendOperationError(c, "new", err)
	}
	for _, u := range recipients {
		offerCtx.Recipients = append(offerCtx.Recipients, PartyRef{ID: u.ID, Username: u.Username})
	}

	return utils.SendSuccess(c, offerCtx, "Offer context retrieved")
}

// EditTradeContext returns the actor's committable assets while editing the
// given trade: free stacks plus those already escrowed to this trade.
// GET /api/trades/:id/edit
func (w *WebApp) EditTradeContext(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	t, err := w.Trades.GetByTradeID(c.Context(), c.Params("id"))
	if err != nil {
		return sendOperationError(c, "edit", err)
	}
	if !t.IsParty(actor.ID) {
		return utils.SendForbidden(c, "You are not a party to this trade")
	}
	if !t.IsOpen() {
		return utils.SendConflict(c, "This trade is no longer open", nil)
	}

	stacks, err := w.Stacks.GetEditableInventory(c.Context(), actor.ID, t.ID)
	if err != nil {
		return sendOperationError(c, "edit", err)
	}
	offerCtx, err := w.buildOfferContext(c.Context(), actor.ID, t.ID, stacks)
	if err != nil {
		return sendOperationError(c, "edit", err)
	}
	return utils.SendSuccess(c, offerCtx, "Offer context retrieved")
}

// CreateTrade opens a new trade with the actor's offer in escrow.
// POST /api/trades
func (w *WebApp) CreateTrade(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	var req trade.Request
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body")
	}

	start := time.Now()
	t, err := w.Engine.CreateTrade(c.Context(), req, actor)
	if err != nil {
		logger.LogTrade("create", "", time.Since(start), err)
		return sendOperationError(c, "create", err)
	}
	logger.LogTrade("create", t.TradeID, time.Since(start), nil)

	detail, err := w.buildDetail(c.Context(), t)
	if err != nil {
		return sendOperationError(c, "create", err)
	}
	return utils.SendCreated(c, detail, "Trade created")
}

// EditTrade replaces the actor's side of the trade and resets confirmations.
// PUT /api/trades/:id
func (w *WebApp) EditTrade(c *fiber.Ctx) error {
	return w.lifecycle(c, "edit", func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		var req trade.Request
		if err := c.BodyParser(&req); err != nil {
			return nil, fiber.ErrBadRequest
		}
		return w.Engine.EditTrade(ctx, tradeID, req, actor)
	})
}

// ConfirmOffer toggles the actor's confirmation of the current offers.
// POST /api/trades/:id/confirm-offer
func (w *WebApp) ConfirmOffer(c *fiber.Ctx) error {
	return w.lifecycle(c, "confirm-offer", func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		return w.Engine.ConfirmOffer(ctx, tradeID, actor)
	})
}

// ConfirmTrade settles a fully confirmed trade.
// POST /api/trades/:id/confirm
func (w *WebApp) ConfirmTrade(c *fiber.Ctx) error {
	return w.lifecycle(c, "confirm", func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		return w.Engine.ConfirmTrade(ctx, tradeID, actor)
	})
}

// CancelTrade closes an open trade and returns all escrow.
// POST /api/trades/:id/cancel
func (w *WebApp) CancelTrade(c *fiber.Ctx) error {
	return w.lifecycle(c, "cancel", func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		return w.Engine.CancelTrade(ctx, tradeID, actor)
	})
}

// RejectTrade closes an open trade as a moderator action.
// POST /api/trades/:id/reject
func (w *WebApp) RejectTrade(c *fiber.Ctx) error {
	return w.lifecycle(c, "reject", func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		return w.Engine.RejectTrade(ctx, tradeID, actor)
	})
}

func (w *WebApp) lifecycle(c *fiber.Ctx, op string, fn func(context.Context, string, trade.Actor) (*models.Trade, error)) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}
	tradeID := c.Params("id")

	start := time.Now()
	t, err := fn(c.Context(), tradeID, actor)
	logger.LogTrade(op, tradeID, time.Since(start), err)
	if err != nil {
		if err == fiber.ErrBadRequest {
			return utils.SendBadRequest(c, "Invalid request body")
		}
		return sendOperationError(c, op, err)
	}

	detail, err := w.buildDetail(c.Context(), t)
	if err != nil {
		return sendOperationError(c, op, err)
	}
	return utils.SendSuccess(c, detail, "Trade updated")
}

func (w *WebApp) partyRef(ctx context.Context, userID int64) (PartyRef, error) {
	user, err := w.Users.GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return PartyRef{ID: userID, Username: "deleted user"}, nil
		}
		return PartyRef{}, err
	}
	return PartyRef{ID: user.ID, Username: user.Username}, nil
}

func (w *WebApp) buildDetail(ctx context.Context, t *models.Trade) (*TradeDetail, error) {
	sender, err := w.buildSide(ctx, t, models.SideSender)
	if err != nil {
		return nil, err
	}
	recipient, err := w.buildSide(ctx, t, models.SideRecipient)
	if err != nil {
		return nil, err
	}

	return &TradeDetail{
		TradeID:   t.TradeID,
		URL:       t.URL(),
		Status:    t.Status,
		Comments:  t.Comments,
		Sender:    sender,
		Recipient: recipient,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func (w *WebApp) buildSide(ctx context.Context, t *models.Trade, side models.TradeSide) (SidePayload, error) {
	var userID int64
	if side == models.SideSender {
		userID = t.SenderID
	} else {
		userID = t.RecipientID
	}

	party, err := w.partyRef(ctx, userID)
	if err != nil {
		return SidePayload{}, err
	}

	offer := t.Data.Side(side)
	payload := SidePayload{
		Party:     party,
		Confirmed: t.ConfirmedBy(side),
		Offer:     offer,
	}

	for _, stackID := range offer.StackIDs {
		stack, err := w.Stacks.GetByID(ctx, stackID)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return SidePayload{}, err
		}
		payload.Stacks = append(payload.Stacks, stack)
	}

	if offer.CurrencyID != "" {
		currency, err := w.Currencies.GetCurrency(ctx, offer.CurrencyID)
		if err != nil && !repositories.IsNotFound(err) {
			return SidePayload{}, err
		}
		payload.Currency = currency
	}

	if offer.CharacterID != 0 {
		character, err := w.Characters.GetByID(ctx, offer.CharacterID)
		if err != nil && !repositories.IsNotFound(err) {
			return SidePayload{}, err
		}
		payload.Character = character
	}

	return payload, nil
}

// buildOfferContext assembles the committable assets. tradeID scopes escrow:
// characters held by that trade stay available while editing it; zero means a
// fresh offer, where only free characters qualify.
func (w *WebApp) buildOfferContext(ctx context.Context, userID, tradeID int64, stacks []*models.ItemStack) (*OfferContext, error) {
	currencies, err := w.Currencies.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	balances := make([]*CurrencyBalance, 0, len(currencies))
	for _, currency := range currencies {
		balance, err := w.Currencies.GetBalance(ctx, userID, currency.ID)
		if err != nil {
			return nil, err
		}
		balances = append(balances, &CurrencyBalance{
			Currency:  currency,
			Balance:   balance.Balance,
			Reserved:  balance.Reserved,
			Available: balance.Available(),
		})
	}

	characters, err := w.Characters.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	tradeable := make([]*models.Character, 0, len(characters))
	for _, ch := range characters {
		if !ch.Tradeable {
			continue
		}
		if !ch.IsFree() && !(tradeID != 0 && ch.HeldBy(tradeID)) {
			continue
		}
		tradeable = append(tradeable, ch)
	}

	return &OfferContext{
		Stacks:     stacks,
		Currencies: balances,
		Characters: tradeable,
	}, nil
}
