package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"tradepost/database/models"
	"tradepost/database/repositories"
	"tradepost/services"
	"tradepost/trade"
	"tradepost/web/middleware"
)

// stubEngine routes each lifecycle call to a configurable function.
type stubEngine struct {
	createFn  func(ctx context.Context, req trade.Request, actor trade.Actor) (*models.Trade, error)
	editFn    func(ctx context.Context, tradeID string, req trade.Request, actor trade.Actor) (*models.Trade, error)
	confirmFn func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	settleFn  func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	cancelFn  func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	rejectFn  func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
}

func (s *stubEngine) CreateTrade(ctx context.Context, req trade.Request, actor trade.Actor) (*models.Trade, error) {
	return s.createFn(ctx, req, actor)
}

func (s *stubEngine) EditTrade(ctx context.Context, tradeID string, req trade.Request, actor trade.Actor) (*models.Trade, error) {
	return s.editFn(ctx, tradeID, req, actor)
}

func (s *stubEngine) ConfirmOffer(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
	return s.confirmFn(ctx, tradeID, actor)
}

func (s *stubEngine) ConfirmTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
	return s.settleFn(ctx, tradeID, actor)
}

func (s *stubEngine) CancelTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
	return s.cancelFn(ctx, tradeID, actor)
}

func (s *stubEngine) RejectTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
	return s.rejectFn(ctx, tradeID, actor)
}

type stubTradeRepo struct {
	trades map[string]*models.Trade
}

func (s *stubTradeRepo) DB() *bun.DB { return nil }

func (s *stubTradeRepo) Create(ctx context.Context, t *models.Trade) error { return nil }

func (s *stubTradeRepo) CreateWithTx(ctx context.Context, tx bun.Tx, t *models.Trade) error {
	return nil
}

func (s *stubTradeRepo) GetByID(ctx context.Context, id int64) (*models.Trade, error) {
	for _, t := range s.trades {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "trade", ID: id}
}

func (s *stubTradeRepo) GetByTradeID(ctx context.Context, tradeID string) (*models.Trade, error) {
	if t, ok := s.trades[tradeID]; ok {
		return t, nil
	}
	return nil, &repositories.NotFoundError{Entity: "trade", ID: tradeID}
}

func (s *stubTradeRepo) GetUserTrades(ctx context.Context, userID int64, status models.TradeStatus, page, perPage int) ([]*models.Trade, int, error) {
	var out []*models.Trade
	for _, t := range s.trades {
		if t.IsParty(userID) && t.Status == status {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (s *stubTradeRepo) TradeIDExists(ctx context.Context, tradeID string) (bool, error) {
	_, ok := s.trades[tradeID]
	return ok, nil
}

func (s *stubTradeRepo) LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Trade, error) {
	return s.GetByID(ctx, id)
}

func (s *stubTradeRepo) UpdateWithTx(ctx context.Context, tx bun.Tx, t *models.Trade) error {
	return nil
}

type stubStackRepo struct {
	stacks map[int64]*models.ItemStack
}

func (s *stubStackRepo) DB() *bun.DB { return nil }

func (s *stubStackRepo) GetByID(ctx context.Context, id int64) (*models.ItemStack, error) {
	if st, ok := s.stacks[id]; ok {
		return st, nil
	}
	return nil, &repositories.NotFoundError{Entity: "item stack", ID: id}
}

func (s *stubStackRepo) GetFreeInventory(ctx context.Context, ownerID int64) ([]*models.ItemStack, error) {
	var out []*models.ItemStack
	for _, st := range s.stacks {
		if st.OwnerID == ownerID && st.IsFree() {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubStackRepo) GetEditableInventory(ctx context.Context, ownerID, tradeID int64) ([]*models.ItemStack, error) {
	var out []*models.ItemStack
	for _, st := range s.stacks {
		if st.OwnerID == ownerID && (st.IsFree() || st.HeldBy(tradeID)) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubStackRepo) GetHeldByTrade(ctx context.Context, tradeID int64) ([]*models.ItemStack, error) {
	return nil, nil
}

func (s *stubStackRepo) LockForUpdate(ctx context.Context, tx bun.Tx, ids []int64) ([]*models.ItemStack, error) {
	return nil, nil
}

func (s *stubStackRepo) Hold(ctx context.Context, tx bun.Tx, stackID, tradeID int64) error {
	return nil
}

func (s *stubStackRepo) Release(ctx context.Context, tx bun.Tx, stackID int64) error { return nil }
func (s *stubStackRepo) ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error {
	return nil
}
func (s *stubStackRepo) Transfer(ctx context.Context, tx bun.Tx, stackID, newOwnerID int64) error {
	return nil
}

type stubCurrencyRepo struct{}

func (s *stubCurrencyRepo) DB() *bun.DB { return nil }

func (s *stubCurrencyRepo) GetCurrency(ctx context.Context, id string) (*models.Currency, error) {
	return &models.Currency{ID: id, Name: id}, nil
}

func (s *stubCurrencyRepo) ListCurrencies(ctx context.Context) ([]*models.Currency, error) {
	return []*models.Currency{{ID: "gold", Name: "Gold"}}, nil
}

func (s *stubCurrencyRepo) GetBalance(ctx context.Context, userID int64, currencyID string) (*models.UserCurrency, error) {
	return &models.UserCurrency{UserID: userID, CurrencyID: currencyID, Balance: 100, Reserved: 25}, nil
}

func (s *stubCurrencyRepo) LockBalance(ctx context.Context, tx bun.Tx, userID int64, currencyID string) (*models.UserCurrency, error) {
	return &models.UserCurrency{UserID: userID, CurrencyID: currencyID}, nil
}

func (s *stubCurrencyRepo) Reserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error {
	return nil
}

func (s *stubCurrencyRepo) ReleaseReserve(ctx context.Context, tx bun.Tx, userID int64, currencyID string, amount int64) error {
	return nil
}

func (s *stubCurrencyRepo) SettleReserve(ctx context.Context, tx bun.Tx, fromUserID, toUserID int64, currencyID string, amount int64) error {
	return nil
}

type stubUserRepo struct {
	users map[int64]*models.User
}

func (s *stubUserRepo) DB() *bun.DB { return nil }

func (s *stubUserRepo) Create(ctx context.Context, u *models.User) error { return nil }

func (s *stubUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, &repositories.NotFoundError{Entity: "user", ID: id}
}

func (s *stubUserRepo) GetByToken(ctx context.Context, token string) (*models.User, error) {
	for _, u := range s.users {
		if u.APIToken == token {
			return u, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "user", ID: token}
}

func (s *stubUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, &repositories.NotFoundError{Entity: "user", ID: username}
}

func (s *stubUserRepo) ListVisible(ctx context.Context) ([]*models.User, error) {
	var out []*models.User
	for _, u := range s.users {
		if u.Visible && !u.Banned {
			out = append(out, u)
		}
	}
	return out, nil
}

type stubCharacterRepo struct{}

func (s *stubCharacterRepo) DB() *bun.DB { return nil }

func (s *stubCharacterRepo) GetByID(ctx context.Context, id int64) (*models.Character, error) {
	return nil, &repositories.NotFoundError{Entity: "character", ID: id}
}

func (s *stubCharacterRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Character, error) {
	return []*models.Character{
		{ID: 1, OwnerID: ownerID, Name: "Rook", Tradeable: true},
		{ID: 2, OwnerID: ownerID, Name: "Pawn", Tradeable: true, HoldingType: models.HoldingTrade, HoldingID: 99},
	}, nil
}

func (s *stubCharacterRepo) LockForUpdate(ctx context.Context, tx bun.Tx, id int64) (*models.Character, error) {
	return nil, &repositories.NotFoundError{Entity: "character", ID: id}
}

func (s *stubCharacterRepo) Hold(ctx context.Context, tx bun.Tx, characterID, tradeID int64) error {
	return nil
}

func (s *stubCharacterRepo) ReleaseAllForTrade(ctx context.Context, tx bun.Tx, tradeID, ownerID int64) error {
	return nil
}

func (s *stubCharacterRepo) TransferWithTx(ctx context.Context, tx bun.Tx, id, newOwnerID int64) error {
	return nil
}

type stubCommentRepo struct {
	created []*models.Comment
}

func (s *stubCommentRepo) DB() *bun.DB { return nil }

func (s *stubCommentRepo) Create(ctx context.Context, comment *models.Comment) error {
	comment.ID = int64(len(s.created) + 1)
	s.created = append(s.created, comment)
	return nil
}

func (s *stubCommentRepo) CommentsFor(ctx context.Context, commentableType string, commentableID int64) ([]*models.Comment, error) {
	var out []*models.Comment
	for _, cm := range s.created {
		if cm.CommentableType == commentableType && cm.CommentableID == commentableID {
			out = append(out, cm)
		}
	}
	return out, nil
}

type fixture struct {
	app    *fiber.App
	engine *stubEngine
	trades *stubTradeRepo
}

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
	modToken   = "tok-mod"
	evilToken  = "tok-evil"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := &stubUserRepo{users: map[int64]*models.User{
		1: {ID: 1, Username: "alice", APIToken: aliceToken, Visible: true},
		2: {ID: 2, Username: "bob", APIToken: bobToken, Visible: true},
		3: {ID: 3, Username: "mod", APIToken: modToken, Visible: true, ManageTrades: true},
		4: {ID: 4, Username: "evil", APIToken: evilToken, Visible: true},
	}}

	openTrade := &models.Trade{
		ID:          10,
		TradeID:     "TRAAAAAA",
		SenderID:    1,
		RecipientID: 2,
		Status:      models.TradeOpen,
	}
	trades := &stubTradeRepo{trades: map[string]*models.Trade{
		openTrade.TradeID: openTrade,
	}}

	engine := &stubEngine{}
	webApp := &WebApp{
		Engine:     engine,
		Directory:  services.NewDirectory(users),
		Trades:     trades,
		Stacks:     &stubStackRepo{stacks: map[int64]*models.ItemStack{}},
		Currencies: &stubCurrencyRepo{},
		Users:      users,
		Characters: &stubCharacterRepo{},
		Comments:   &stubCommentRepo{},
	}

	app := fiber.New()
	webApp.RegisterRoutes(app, middleware.NewAuthenticator(users))

	return &fixture{app: app, engine: engine, trades: trades}
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodGet, "/api/trades/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/", "tok-unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateTrade(t *testing.T) {
	f := newFixture(t)
	f.engine.createFn = func(ctx context.Context, req trade.Request, actor trade.Actor) (*models.Trade, error) {
		created := &models.Trade{
			ID:          11,
			TradeID:     "TRBBBBBB",
			SenderID:    actor.ID,
			RecipientID: req.RecipientID,
			Status:      models.TradeOpen,
		}
		created.Data.SetSide(models.SideSender, req.Offer())
		return created, nil
	}

	resp := doRequest(t, f.app, http.MethodPost, "/api/trades/", aliceToken, trade.Request{
		RecipientID: 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "TRBBBBBB", data["trade_id"])
	assert.Equal(t, "/trades/TRBBBBBB", data["url"])
	assert.Equal(t, "open", data["status"])
}

func TestCreateTradeValidationErrors(t *testing.T) {
	f := newFixture(t)
	f.engine.createFn = func(ctx context.Context, req trade.Request, actor trade.Actor) (*models.Trade, error) {
		errs := trade.NewErrorList()
		errs.Add(trade.ClassValidation, "Currency quantity cannot be negative.")
		errs.Add(trade.ClassValidation, "Item stack 9 is listed more than once.")
		return nil, errs
	}

	resp := doRequest(t, f.app, http.MethodPost, "/api/trades/", aliceToken, trade.Request{RecipientID: 2})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["success"])
	apiErr := body["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_ERROR", apiErr["code"])
	assert.Len(t, apiErr["messages"], 2)
}

func TestGetTradeVisibility(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA", aliceToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A non-party cannot see an open trade.
	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA", evilToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Moderators cannot see open trades either.
	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA", modToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRZZZZZZ", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTradeCompletedVisibleToModerator(t *testing.T) {
	f := newFixture(t)
	f.trades.trades["TRAAAAAA"].Status = models.TradeCompleted

	resp := doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA", modToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA", evilToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConfirmTradeConflict(t *testing.T) {
	f := newFixture(t)
	f.engine.settleFn = func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		errs := trade.NewErrorList()
		errs.Add(trade.ClassConflict, "The recipient has not confirmed their offer.")
		return nil, errs
	}

	resp := doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/confirm", aliceToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	apiErr := body["error"].(map[string]interface{})
	assert.Equal(t, "CONFLICT", apiErr["code"])
}

func TestRejectRequiresModerator(t *testing.T) {
	f := newFixture(t)
	f.engine.rejectFn = func(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error) {
		return f.trades.trades[tradeID], nil
	}

	resp := doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/reject", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/reject", modToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListTrades(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodGet, "/api/trades/?status=open", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	row := data[0].(map[string]interface{})
	assert.Equal(t, "TRAAAAAA", row["trade_id"])
	partner := row["partner"].(map[string]interface{})
	assert.Equal(t, "bob", partner["username"])

	pagination := body["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["total"])

	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/?status=bogus", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTradesDegenerateParams(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/trades/?limit=0",
		"/api/trades/?limit=-5",
		"/api/trades/?page=0",
		"/api/trades/?page=-1&limit=0",
	} {
		resp := doRequest(t, f.app, http.MethodGet, path, aliceToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		body := decodeBody(t, resp)
		pagination := body["pagination"].(map[string]interface{})
		assert.GreaterOrEqual(t, pagination["limit"], float64(1), path)
		assert.GreaterOrEqual(t, pagination["page"], float64(1), path)
	}
}

func TestOfferContexts(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodGet, "/api/trades/new", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]interface{})
	currencies := data["currencies"].([]interface{})
	require.Len(t, currencies, 1)
	balance := currencies[0].(map[string]interface{})
	assert.Equal(t, float64(75), balance["available"])

	// A character escrowed to another trade is not offerable.
	characters := data["characters"].([]interface{})
	require.Len(t, characters, 1)
	character := characters[0].(map[string]interface{})
	assert.Equal(t, "Rook", character["Name"])

	// The same exclusion applies while editing a different trade.
	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA/edit", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	data = body["data"].(map[string]interface{})
	characters = data["characters"].([]interface{})
	require.Len(t, characters, 1)

	// Editing a closed trade yields a conflict.
	f.trades.trades["TRAAAAAA"].Status = models.TradeCanceled
	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA/edit", aliceToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTradeComments(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/comments", aliceToken,
		map[string]string{"body": "offer looks good"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/comments", bobToken,
		map[string]string{"body": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodPost, "/api/trades/TRAAAAAA/comments", evilToken,
		map[string]string{"body": "let me in"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, f.app, http.MethodGet, "/api/trades/TRAAAAAA/comments", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	comment := data[0].(map[string]interface{})
	assert.Equal(t, "offer looks good", comment["body"])
	author := comment["author"].(map[string]interface{})
	assert.Equal(t, "alice", author["username"])
}

func TestSearchRecipients(t *testing.T) {
	f := newFixture(t)

	resp := doRequest(t, f.app, http.MethodGet, "/api/users/search?q=bob", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	ref := data[0].(map[string]interface{})
	assert.Equal(t, "bob", ref["username"])
}
