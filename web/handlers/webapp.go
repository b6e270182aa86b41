package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"tradepost/database/models"
	"tradepost/database/repositories"
	"tradepost/logger"
	"tradepost/services"
	"tradepost/trade"
	webmodels "tradepost/web/models"
	"tradepost/web/utils"
)

// TradeEngine is the lifecycle surface the handlers drive. Failures carrying
// collected violations arrive as *trade.ErrorList.
type TradeEngine interface {
	CreateTrade(ctx context.Context, req trade.Request, actor trade.Actor) (*models.Trade, error)
	EditTrade(ctx context.Context, tradeID string, req trade.Request, actor trade.Actor) (*models.Trade, error)
	ConfirmOffer(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	ConfirmTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	CancelTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
	RejectTrade(ctx context.Context, tradeID string, actor trade.Actor) (*models.Trade, error)
}

// WebApp bundles the dependencies of every HTTP handler.
type WebApp struct {
	Engine     TradeEngine
	Directory  *services.Directory
	Trades     repositories.TradeRepository
	Stacks     repositories.StackRepository
	Currencies repositories.CurrencyRepository
	Users      repositories.UserRepository
	Characters repositories.CharacterRepository
	Comments   repositories.CommentRepository
}

// sendOperationError translates an operation failure into the right HTTP
// response. Collected violations keep their classes; everything else is an
// internal error, logged here at the boundary.
func sendOperationError(c *fiber.Ctx, op string, err error) error {
	if errs, ok := trade.AsErrorList(err); ok {
		return utils.SendLifecycleError(c, errs)
	}
	if repositories.IsNotFound(err) {
		return utils.SendNotFound(c, "Not found")
	}
	logger.LogError("Trade operation failed", err,
		"op", op,
		"path", c.Path(),
	)
	return utils.SendInternalServerError(c, "Something went wrong")
}

func buildPagination(page, limit, total int) *webmodels.PaginationInfo {
	return webmodels.NewPaginationInfo(page, limit, total)
}
