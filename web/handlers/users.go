package handlers

import (
	"github.com/gofiber/fiber/v2"

	"tradepost/web/utils"
)

// SearchRecipients returns candidate trade partners matching the query.
// GET /api/users/search?q=name&limit=10
func (w *WebApp) SearchRecipients(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	query := c.Query("q")
	limit := c.QueryInt("limit", 10)
	if limit > 50 {
		limit = 50
	}

	users, err := w.Directory.SearchRecipients(c.Context(), query, actor.ID, limit)
	if err != nil {
		return sendOperationError(c, "search", err)
	}

	refs := make([]PartyRef, 0, len(users))
	for _, u := range users {
		refs = append(refs, PartyRef{ID: u.ID, Username: u.Username})
	}
	return utils.SendSuccess(c, refs, "Users retrieved")
}
