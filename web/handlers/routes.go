package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tradepost/web/middleware"
)

// RegisterRoutes mounts the API under /api. Every route requires a valid
// token; the moderator reject additionally requires manage-trades.
func (w *WebApp) RegisterRoutes(app *fiber.App, auth *middleware.Authenticator) {
	api := app.Group("/api", auth.AuthRequired())

	api.Get("/users/search", w.SearchRecipients)

	trades := api.Group("/trades")
	trades.Get("/", w.ListTrades)
	trades.Post("/", w.CreateTrade)
	trades.Get("/new", w.NewTradeContext)
	trades.Get("/:id", w.GetTrade)
	trades.Put("/:id", w.EditTrade)
	trades.Get("/:id/edit", w.EditTradeContext)
	trades.Post("/:id/confirm-offer", w.ConfirmOffer)
	trades.Post("/:id/confirm", w.ConfirmTrade)
	trades.Post("/:id/cancel", w.CancelTrade)
	trades.Post("/:id/reject",
		middleware.ModeratorRequired(),
		middleware.AuditLogMiddleware("trade-reject"),
		w.RejectTrade)

	trades.Get("/:id/comments", w.ListTradeComments)
	trades.Post("/:id/comments", w.CreateTradeComment)
}
