package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Commentable types. Any record type listed here can carry comments through
// the polymorphic (commentable_type, commentable_id) pair.
const (
	CommentableTrade     = "trade"
	CommentableCharacter = "character"
)

type Comment struct {
	bun.BaseModel `bun:"table:comments,alias:cm"`

	ID              int64  `bun:"id,pk,autoincrement"`
	CommentableType string `bun:"commentable_type,notnull"`
	CommentableID   int64  `bun:"commentable_id,notnull"`
	UserID          int64  `bun:"user_id,notnull"`
	Body            string `bun:"body,type:text,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	User *User `bun:"rel:belongs-to,join:user_id=id"`
}
