package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Character carries the same (holding_type, holding_id) escrow pair as
// ItemStack: while offered in an open trade it cannot be committed elsewhere.
type Character struct {
	bun.BaseModel `bun:"table:characters,alias:ch"`

	ID          int64     `bun:"id,pk,autoincrement"`
	OwnerID     int64     `bun:"owner_id,notnull"`
	Name        string    `bun:"name,notnull"`
	Slug        string    `bun:"slug,notnull,unique"`
	Tradeable   bool      `bun:"tradeable,notnull,default:true"`
	Visible     bool      `bun:"visible,notnull,default:true"`
	HoldingType string    `bun:"holding_type,notnull,default:''"`
	HoldingID   int64     `bun:"holding_id,notnull,default:0"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// Hold returns the character's current escrow state.
func (c *Character) Hold() Hold {
	if c.HoldingType == HoldingTrade && c.HoldingID != 0 {
		return Hold{Held: true, TradeID: c.HoldingID}
	}
	return Hold{}
}

// IsFree reports whether the character can be committed to a new trade.
func (c *Character) IsFree() bool {
	return !c.Hold().Held
}

// HeldBy reports whether the character is escrowed to the given trade.
func (c *Character) HeldBy(tradeID int64) bool {
	h := c.Hold()
	return h.Held && h.TradeID == tradeID
}
