package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Username     string    `bun:"username,notnull,unique"`
	APIToken     string    `bun:"api_token,notnull,unique"`
	Visible      bool      `bun:"visible,notnull,default:true"`
	ManageTrades bool      `bun:"manage_trades,notnull,default:false"`
	Banned       bool      `bun:"banned,notnull,default:false"`
	JoinedAt     time.Time `bun:"joined_at,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
