package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"tradepost/database/models"
	"tradepost/web/utils"
)

const maxCommentLength = 4000

type commentRequest struct {
	Body string `json:"body"`
}

// CommentView is one comment with its author resolved.
type CommentView struct {
	ID        int64     `json:"id"`
	Author    PartyRef  `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTradeComments returns the trade's comment thread, oldest first.
// GET /api/trades/:id/comments
func (w *WebApp) ListTradeComments(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	t, err := w.Trades.GetByTradeID(c.Context(), c.Params("id"))
	if err != nil {
		return sendOperationError(c, "comments", err)
	}
	if !actor.CanView(t.SenderID, t.RecipientID, t.Status == models.TradeCompleted) {
		return utils.SendForbidden(c, "You are not a party to this trade")
	}

	comments, err := w.Comments.CommentsFor(c.Context(), models.CommentableTrade, t.ID)
	if err != nil {
		return sendOperationError(c, "comments", err)
	}

	views := make([]*CommentView, 0, len(comments))
	for _, comment := range comments {
		var author PartyRef
		if comment.User != nil {
			author = PartyRef{ID: comment.UserID, Username: comment.User.Username}
		} else if author, err = w.partyRef(c.Context(), comment.UserID); err != nil {
			return sendOperationError(c, "comments", err)
		}
		views = append(views, &CommentView{
			ID:        comment.ID,
			Author:    author,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt,
		})
	}
	return utils.SendSuccess(c, views, "Comments retrieved")
}

// CreateTradeComment posts a comment on the trade. Parties can comment at
// any point of the lifecycle, closed trades included.
// POST /api/trades/:id/comments
func (w *WebApp) CreateTradeComment(c *fiber.Ctx) error {
	actor, ok := utils.ExtractActor(c)
	if !ok {
		return utils.SendUnauthorized(c, "Authentication required")
	}

	t, err := w.Trades.GetByTradeID(c.Context(), c.Params("id"))
	if err != nil {
		return sendOperationError(c, "comment", err)
	}
	if !actor.CanView(t.SenderID, t.RecipientID, t.Status == models.TradeCompleted) {
		return utils.SendForbidden(c, "You are not a party to this trade")
	}

	var req commentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendBadRequest(c, "Invalid request body")
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return utils.SendUnprocessableEntity(c, "Comment body cannot be empty", nil)
	}
	if len(body) > maxCommentLength {
		return utils.SendUnprocessableEntity(c, "Comment body is too long", nil)
	}

	comment := &models.Comment{
		CommentableType: models.CommentableTrade,
		CommentableID:   t.ID,
		UserID:          actor.ID,
		Body:            body,
	}
	if err := w.Comments.Create(c.Context(), comment); err != nil {
		return sendOperationError(c, "comment", err)
	}

	view := &CommentView{
		ID:        comment.ID,
		Author:    PartyRef{ID: actor.ID, Username: actor.Username},
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt,
	}
	return utils.SendCreated(c, view, "Comment posted")
}
