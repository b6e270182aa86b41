package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"tradepost/database/models"
)

// CommentRepository attaches comments to arbitrary records through the
// polymorphic (commentable_type, commentable_id) pair.
type CommentRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, comment *models.Comment) error
	CommentsFor(ctx context.Context, commentableType string, commentableID int64) ([]*models.Comment, error)
}

type commentRepository struct {
	*BaseRepository
}

func NewCommentRepository(db *bun.DB) CommentRepository {
	return &commentRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *commentRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	comment.CreatedAt = time.Now()
	comment.UpdatedAt = time.Now()

	_, err := r.GetDB().NewInsert().Model(comment).Exec(ctx)
	return r.HandleError("create", "comment", err)
}

func (r *commentRepository) CommentsFor(ctx context.Context, commentableType string, commentableID int64) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.GetDB().NewSelect().
		Model(&comments).
		Relation("User").
		Where("cm.commentable_type = ? AND cm.commentable_id = ?", commentableType, commentableID).
		Order("cm.created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "comment", err)
	}
	return comments, nil
}
